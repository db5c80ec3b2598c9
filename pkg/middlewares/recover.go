/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package middlewares

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/web"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Recover middleware converts a handler panic into a 500 response so one
// bad request cannot take the server down.
func Recover(next web.Handler) web.Handler {
	return web.Handler(func(ctx context.Context, writer http.ResponseWriter, request *http.Request) (err error) {

		defer func() {
			if recovered := recover(); recovered != nil {
				log.WithFields(log.Fields{
					"Method":     request.Method,
					"RequestURI": request.RequestURI,
					"Panic":      recovered,
					"Stack":      string(debug.Stack()),
				}).Error("handler panic recovered")
				err = errors.Errorf("panic: %v", recovered)
			}
		}()

		return next(ctx, writer, request)
	})
}
