// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ctrliq/pgpapi/pkg/keyapi"
	"github.com/sirupsen/logrus"
)

// errorResult returns a JSON error result produced by the HTTP layer
// itself rather than by a key API operation.
func errorResult(code int, message string) keyapi.Result {
	return keyapi.Result{
		Code: code,
		Body: &keyapi.Response{Error: true, Message: message},
	}
}

// writeResult writes the result status code and body, raw key text is
// sent as plain text and everything else as JSON.
func writeResult(w http.ResponseWriter, res keyapi.Result) {
	if text, ok := res.Body.(string); ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(res.Code)
		fmt.Fprint(w, text)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Code)
	if err := json.NewEncoder(w).Encode(res.Body); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}
