// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package apiserver

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// remoteIP returns the client address of a request, RemoteAddr is
// already rewritten from proxy headers by middleware.RealIP.
func remoteIP(req *http.Request) string {
	ip, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return ip
}

// routePattern returns the matched API route, or the raw path for
// requests which didn't match any route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// LogRequestHandler logs every API request once it's been served,
// server errors are logged as warnings.
func LogRequestHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}

		entry := logrus.WithFields(logrus.Fields{
			"remote": remoteIP(r),
			"code":   code,
			"size":   ww.BytesWritten(),
			"method": r.Method,
			"route":  routePattern(r),
			"path":   r.RequestURI,
			"took":   time.Since(start),
		})
		if code >= http.StatusInternalServerError {
			entry.Warn("api request failed")
		} else {
			entry.Info("api request")
		}
	})
}
