/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ctxKey is the package private type for context keys to avoid collisions.
type ctxKey int

// KeyValues is the context key for the request scoped ContextValues.
const KeyValues ctxKey = 1

// ContextValues carries request scoped values used for logging and tracing.
type ContextValues struct {
	TraceID    string
	Method     string
	RequestURI string
	Now        time.Time
}

// Handler is the signature all application handlers implement. Returned
// errors are translated to HTTP responses by Error.
type Handler func(ctx context.Context, writer http.ResponseWriter, request *http.Request) error

// ServeHTTP implements http.Handler so a Handler can be mounted on a router.
// It seeds the request context with trace values and funnels handler errors
// through the centralized error responder.
func (handler Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {

	values := ContextValues{
		TraceID:    uuid.New().String(),
		Method:     request.Method,
		RequestURI: request.RequestURI,
		Now:        time.Now(),
	}
	ctx := context.WithValue(request.Context(), KeyValues, &values)

	if err := handler(ctx, writer, request); err != nil {
		Error(ctx, writer, err)
	}
}
