/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package middlewares

import (
	"context"
	"net/http"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/web"
	log "github.com/sirupsen/logrus"
)

// Logger middleware logs one line per request with trace id and latency.
func Logger(next web.Handler) web.Handler {
	return web.Handler(func(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

		err := next(ctx, writer, request)

		if values, ok := ctx.Value(web.KeyValues).(*web.ContextValues); ok {
			log.WithFields(log.Fields{
				"Method":     values.Method,
				"RequestURI": values.RequestURI,
				"TraceID":    values.TraceID,
				"Latency":    time.Since(values.Now).String(),
			}).Info("request served")
		}
		return err
	})
}
