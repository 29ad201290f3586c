// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package apiserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ctrliq/pgpapi/internal/pkg/buntstore"
	"github.com/ctrliq/pgpapi/pkg/keyapi"
	"github.com/ctrliq/pgpapi/pkg/keyserver"
	"github.com/ctrliq/pgpapi/pkg/keyserver/keyservertest"
)

func newService(t *testing.T, srv *keyservertest.Server) *keyapi.Service {
	t.Helper()

	ks, err := keyserver.New(keyserver.Config{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error while creating keyserver client: %s", err)
	}

	store := buntstore.New(buntstore.Config{})
	if err := store.Open(); err != nil {
		t.Fatalf("unexpected error while opening store: %s", err)
	}
	t.Cleanup(func() { store.Close() })

	return keyapi.New(keyapi.Config{
		Store: &keyapi.Adapter{Keyserver: ks, Store: store},
	})
}

func TestStart(t *testing.T) {
	srv := keyservertest.NewServer()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	cfg := Config{
		Addr:    "127.0.0.1:0",
		Service: newService(t, srv),
	}
	if err := Start(ctx, cfg); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := Start(ctx, Config{}); err == nil {
		t.Fatalf("expected error without key service")
	}
}

func TestHandler(t *testing.T) {
	alice := keyservertest.NewEntity(t, "Alice")
	aliceFp := keyservertest.Fingerprint(alice)

	srv := keyservertest.NewServer(alice)
	defer srv.Close()
	srv.AddBroken("DC6E1684ED5DEE87")

	handler, err := NewHandler(Config{Service: newService(t, srv)})
	if err != nil {
		t.Fatalf("unexpected error while creating handler: %s", err)
	}

	bob := keyservertest.NewEntity(t, "Bob")
	kvBob := url.Values{}
	kvBob.Set("keytext", keyservertest.Armored(t, bob))

	kvInvalid := url.Values{}
	kvInvalid.Set("keytext", "NOT VALID")

	tests := []struct {
		name        string
		method      string
		path        string
		body        io.Reader
		code        int
		contentType string
		message     string
		content     string
	}{
		{
			name:    "search not found",
			method:  "GET",
			path:    "/api/1/search/N0T_3X1ST3NT_K3Y_1N_SKS_S3RV3R",
			code:    http.StatusNotFound,
			message: "No keys found",
		},
		{
			name:    "search by name",
			method:  "GET",
			path:    "/api/1/search/alice",
			code:    http.StatusOK,
			message: "1 good keys. 0 bad keys. 1 total keys",
		},
		{
			name:    "search escaped name",
			method:  "GET",
			path:    "/api/1/search/Alice%20%3Calice",
			code:    http.StatusOK,
			message: "1 good keys. 0 bad keys. 1 total keys",
		},
		{
			name:    "search bad key",
			method:  "GET",
			path:    "/api/1/search/DC6E1684ED5DEE87",
			code:    http.StatusOK,
			message: "0 good keys. 1 bad keys. 1 total keys",
		},
		{
			name:   "post search",
			method: "POST",
			path:   "/api/1/search/alice",
			code:   http.StatusMethodNotAllowed,
		},
		{
			name:    "get not found",
			method:  "GET",
			path:    "/api/1/get/BAD",
			code:    http.StatusNotFound,
			message: "Key not found",
		},
		{
			name:    "get not valid",
			method:  "GET",
			path:    "/api/1/get/DC6E1684ED5DEE87",
			code:    http.StatusBadRequest,
			message: "Key DC6E1684ED5DEE87 is not valid PGP-2 key and cannot be used",
		},
		{
			name:    "get key",
			method:  "GET",
			path:    "/api/1/get/" + aliceFp,
			code:    http.StatusOK,
			message: "Key found",
		},
		{
			name:        "get raw key",
			method:      "GET",
			path:        "/api/1/get/" + aliceFp + "?raw=1",
			code:        http.StatusOK,
			contentType: "text/plain; charset=utf-8",
			content:     "-----BEGIN PGP PUBLIC KEY BLOCK-----",
		},
		{
			name:        "get raw key without value",
			method:      "GET",
			path:        "/api/1/get/" + aliceFp + "?raw",
			code:        http.StatusOK,
			contentType: "text/plain; charset=utf-8",
			content:     "-----END PGP PUBLIC KEY BLOCK-----",
		},
		{
			name:        "get raw with false value",
			method:      "GET",
			path:        "/api/1/get/" + aliceFp + "?raw=false",
			code:        http.StatusOK,
			contentType: "text/plain; charset=utf-8",
			content:     "-----BEGIN PGP PUBLIC KEY BLOCK-----",
		},
		{
			name:    "get without raw",
			method:  "GET",
			path:    "/api/1/get/" + aliceFp + "?format=raw",
			code:    http.StatusOK,
			message: "Key found",
		},
		{
			name:   "get add",
			method: "GET",
			path:   "/api/1/add",
			code:   http.StatusMethodNotAllowed,
		},
		{
			name:    "empty add",
			method:  "POST",
			path:    "/api/1/add",
			code:    http.StatusBadRequest,
			message: "You must send a valid OpenPGP armored key",
		},
		{
			name:    "add invalid key",
			method:  "POST",
			path:    "/api/1/add",
			body:    strings.NewReader(kvInvalid.Encode()),
			code:    http.StatusUnsupportedMediaType,
			message: "Key cannot be imported. Please check that it is a valid OpenPGP armor format",
		},
		{
			name:    "add key",
			method:  "POST",
			path:    "/api/1/add",
			body:    strings.NewReader(kvBob.Encode()),
			code:    http.StatusCreated,
			message: "Key imported into keyserver",
		},
		{
			name:   "unknown route",
			method: "GET",
			path:   "/pks/lookup",
			code:   http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		resp := httptest.NewRecorder()
		req := httptest.NewRequest(tt.method, "http://localhost"+tt.path, tt.body)

		if tt.method == "POST" {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		handler.ServeHTTP(resp, req)

		if resp.Code != tt.code {
			t.Errorf("unexpected http status returned for %q: got %d instead of %d", tt.name, resp.Code, tt.code)
			continue
		}

		contentType := tt.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		if ct := resp.Header().Get("Content-Type"); ct != contentType {
			t.Errorf("unexpected content type for %q: got %s instead of %s", tt.name, ct, contentType)
		}

		if tt.content != "" && !strings.Contains(resp.Body.String(), tt.content) {
			t.Errorf("unexpected content returned for %q: %s", tt.name, resp.Body.String())
		}
		if tt.message != "" {
			var r keyapi.Response
			if err := json.Unmarshal(resp.Body.Bytes(), &r); err != nil {
				t.Errorf("unexpected error while unmarshalling json response for %q: %s", tt.name, err)
			} else if r.Message != tt.message {
				t.Errorf("unexpected message returned for %q: got %s instead of %s", tt.name, r.Message, tt.message)
			}
		}
	}
}

func TestBodyTooLarge(t *testing.T) {
	srv := keyservertest.NewServer()
	defer srv.Close()

	handler, err := NewHandler(Config{Service: newService(t, srv), MaxBodyBytes: 64})
	if err != nil {
		t.Fatalf("unexpected error while creating handler: %s", err)
	}

	kv := url.Values{}
	kv.Set("keytext", strings.Repeat("A", 128))

	resp := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "http://localhost/api/1/add", strings.NewReader(kv.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("unexpected http status: got %d instead of %d", resp.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestAddRateLimit(t *testing.T) {
	srv := keyservertest.NewServer()
	defer srv.Close()

	handler, err := NewHandler(Config{Service: newService(t, srv), AddRateLimit: "2/1"})
	if err != nil {
		t.Fatalf("unexpected error while creating handler: %s", err)
	}

	add := func(ip string) int {
		kv := url.Values{}
		kv.Set("keytext", "NOT VALID")
		resp := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "http://localhost/api/1/add", strings.NewReader(kv.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Real-Ip", ip)
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	tests := []struct {
		name string
		ip   string
		code int
	}{
		{"First request OK", "10.0.0.1", http.StatusUnsupportedMediaType},
		{"Second request OK", "10.0.0.1", http.StatusUnsupportedMediaType},
		{"Third request KO", "10.0.0.1", http.StatusTooManyRequests},
		{"Other address OK", "10.0.0.2", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		if code := add(tt.ip); code != tt.code {
			t.Errorf("unexpected http status for %q: got %d instead of %d", tt.name, code, tt.code)
		}
	}

	if _, err := NewHandler(Config{Service: newService(t, srv), AddRateLimit: "bogus"}); err == nil {
		t.Errorf("expected error for invalid rate limit")
	}
}

func TestRateLimitParse(t *testing.T) {
	tests := []struct {
		rl       RateLimit
		requests int
		minutes  int
		wantErr  bool
	}{
		{rl: "", requests: 0, minutes: 0},
		{rl: "10/1", requests: 10, minutes: 1},
		{rl: " 3 / 60 ", requests: 3, minutes: 60},
		{rl: "10", wantErr: true},
		{rl: "0/1", wantErr: true},
		{rl: "1/x", wantErr: true},
	}

	for _, tt := range tests {
		requests, minutes, err := tt.rl.Parse()
		if tt.wantErr {
			if err == nil {
				t.Errorf("expected error for %q", tt.rl)
			}
			continue
		}
		if err != nil || requests != tt.requests || minutes != tt.minutes {
			t.Errorf("unexpected result for %q: %d %d %v", tt.rl, requests, minutes, err)
		}
	}
}
