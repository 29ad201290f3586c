// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

// Package apiserver serves the key API over HTTP.
package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ctrliq/pgpapi/pkg/keyapi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAddr         = ":8080"
	DefaultMaxBodyBytes = int64(1 << 18)
)

const (
	SearchRoute = "/api/1/search/{query}"
	GetRoute    = "/api/1/get/{keyid}"
	AddRoute    = "/api/1/add"
)

const (
	msgMissingKey   = "You must send a valid OpenPGP armored key"
	msgBodyTooLarge = "Submitted key is too large"
	msgRateLimited  = "Too many key submissions, try again later"
)

type Config struct {
	Addr         string
	PublicPem    string
	PrivatePem   string
	Service      *keyapi.Service
	AddRateLimit RateLimit
	MaxBodyBytes int64
}

type apiHandler struct {
	service      *keyapi.Service
	maxBodyBytes int64
	limiter      *pushLimiter
}

// urlParam returns the unescaped value of a route parameter.
func urlParam(r *http.Request, key string) string {
	p := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return p
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		return unescaped
	}
	return p
}

// rawFlag reports whether raw output is requested, the raw parameter
// is enabled by its presence whatever its value.
func rawFlag(r *http.Request) bool {
	_, ok := r.URL.Query()["raw"]
	return ok
}

func (h *apiHandler) search(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.service.Search(r.Context(), urlParam(r, "query")))
}

func (h *apiHandler) get(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.service.Get(r.Context(), urlParam(r, "keyid"), rawFlag(r)))
}

func (h *apiHandler) add(w http.ResponseWriter, r *http.Request) {
	if h.limiter.limitReached(remoteIP(r)) {
		writeResult(w, errorResult(http.StatusTooManyRequests, msgRateLimited))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeResult(w, errorResult(http.StatusRequestEntityTooLarge, msgBodyTooLarge))
			return
		}
		writeResult(w, errorResult(http.StatusBadRequest, err.Error()))
		return
	}

	keytext := r.PostForm.Get("keytext")
	if keytext == "" {
		writeResult(w, errorResult(http.StatusBadRequest, msgMissingKey))
		return
	}

	writeResult(w, h.service.Add(r.Context(), keytext))
}

// NewHandler returns the HTTP handler serving the key API routes.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("no key service specified")
	}

	limiter, err := newPushLimiter(cfg.AddRateLimit)
	if err != nil {
		return nil, err
	}

	handler := &apiHandler{
		service:      cfg.Service,
		maxBodyBytes: cfg.MaxBodyBytes,
		limiter:      limiter,
	}
	if handler.maxBodyBytes <= 0 {
		handler.maxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP, LogRequestHandler)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, errorResult(http.StatusNotFound, http.StatusText(http.StatusNotFound)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, errorResult(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed)))
	})
	r.Get(SearchRoute, handler.search)
	r.Get(GetRoute, handler.get)
	r.Post(AddRoute, handler.add)

	return r, nil
}

// Start serves the key API until ctx is canceled.
func Start(ctx context.Context, cfg Config) error {
	shutdownCh := make(chan error, 1)

	handler, err := NewHandler(cfg)
	if err != nil {
		return err
	}

	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down server")
		shutdownCh <- srv.Shutdown(context.Background())
	}()

	if cfg.PublicPem != "" && cfg.PrivatePem != "" {
		err = srv.ListenAndServeTLS(cfg.PublicPem, cfg.PrivatePem)
	} else {
		err = srv.ListenAndServe()
	}

	if err != http.ErrServerClosed {
		return err
	}

	return <-shutdownCh
}
