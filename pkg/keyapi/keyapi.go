// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

// Package keyapi implements the search, get and add operations of
// the key API on top of a keyserver and a local trust store.
package keyapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ctrliq/pgpapi/pkg/keystore"
	"github.com/sirupsen/logrus"
)

const DefaultMaxSearchKeys = 40

const (
	msgNoKeys          = "No keys found"
	msgTooManyKeys     = "Too much results, try redefine your search"
	msgKeyFound        = "Key found"
	msgKeyNotFound     = "Key not found"
	msgKeyNotValid     = "Key %s is not valid PGP-2 key and cannot be used"
	msgKeyImported     = "Key imported into keyserver"
	msgKeyNotPublished = "The key is valid, but SKS server does not import it. Please, try again"
	msgKeyInvalid      = "Key cannot be imported. Please check that it is a valid OpenPGP armor format"
)

// Response is the JSON body returned by every operation.
type Response struct {
	Result  interface{} `json:"result,omitempty"`
	Error   bool        `json:"error"`
	Message string      `json:"message"`
}

// KeyResult is the result of a successful get operation.
type KeyResult struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Result associates an HTTP status code with a body, Body is either
// a *Response or the armored key text for raw get operations.
type Result struct {
	Code int
	Body interface{}
}

// IsRaw reports whether the body is raw key text.
func (r Result) IsRaw() bool {
	_, ok := r.Body.(string)
	return ok
}

func newResult(code int, isError bool, result interface{}, message string) Result {
	return Result{
		Code: code,
		Body: &Response{
			Result:  result,
			Error:   isError,
			Message: message,
		},
	}
}

type Config struct {
	Store         KeyStore
	MaxSearchKeys int
}

// Service runs the key API operations. Operations never fail, every
// error is reported through the returned Result.
type Service struct {
	store         KeyStore
	classifier    *Classifier
	maxSearchKeys int
}

func New(cfg Config) *Service {
	maxKeys := cfg.MaxSearchKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxSearchKeys
	}
	return &Service{
		store:         cfg.Store,
		classifier:    &Classifier{Store: cfg.Store},
		maxSearchKeys: maxKeys,
	}
}

// Search looks up query on the keyserver and classifies the returned
// keys. Searches returning more than the configured maximum of keys
// are rejected before any key is fetched.
func (s *Service) Search(ctx context.Context, query string) Result {
	log := logrus.WithField("query", query)

	keys, err := s.store.SearchKeys(ctx, query)
	if err != nil {
		log.WithError(err).Warn("Keyserver search failed")
	}

	if len(keys) == 0 {
		return newResult(http.StatusNotFound, false, []interface{}{}, msgNoKeys)
	} else if len(keys) > s.maxSearchKeys {
		log.WithField("count", len(keys)).Info("Search rejected, too many keys")
		return newResult(http.StatusBadRequest, true, []interface{}{}, msgTooManyKeys)
	}

	cl := s.classifier.Classify(ctx, keys)
	msg := fmt.Sprintf("%d good keys. %d bad keys. %d total keys", len(cl.Good), len(cl.Bad), len(keys))

	return newResult(http.StatusOK, false, cl, msg)
}

// Get retrieves keyid from the keyserver and returns its armored
// form, as raw text if requested.
func (s *Service) Get(ctx context.Context, keyid string, raw bool) Result {
	log := logrus.WithField("keyid", keyid)

	if err := s.store.RecvKeys(ctx, keyid); err != nil {
		log.WithError(err).Debug("Failed to receive key")
	}

	key, err := s.store.ExportKeys(keyid)
	if err != nil {
		log.WithError(err).Warn("Failed to export key")
	}

	if key != "" {
		if raw {
			return Result{Code: http.StatusOK, Body: key}
		}
		return newResult(http.StatusOK, false, &KeyResult{ID: keyid, Key: key}, msgKeyFound)
	}

	// distinguish keys unknown to the keyserver from keys which
	// couldn't be imported
	keys, err := s.store.SearchKeys(ctx, keyid)
	if err != nil {
		log.WithError(err).Warn("Keyserver search failed")
	}
	if len(keys) == 0 {
		return newResult(http.StatusNotFound, true, struct{}{}, msgKeyNotFound)
	}

	return newResult(http.StatusBadRequest, true, struct{}{}, fmt.Sprintf(msgKeyNotValid, keyid))
}

// Add imports the armored key, publishes it on the keyserver and
// checks the keyserver now serves it.
func (s *Service) Add(ctx context.Context, keytext string) Result {
	res, err := s.store.ImportKeys(keytext)
	if err != nil || res.Count == 0 {
		logrus.WithError(err).Debug("Key submission rejected")
		return newResult(http.StatusUnsupportedMediaType, true, nil, msgKeyInvalid)
	}

	fp := res.Fingerprints[0]
	log := logrus.WithField("fingerprint", fp)

	if err := s.store.SendKeys(ctx, fp); err != nil {
		log.WithError(err).Warn("Failed to send key")
	}

	keys, err := s.store.SearchKeys(ctx, fp)
	if err != nil {
		log.WithError(err).Warn("Keyserver search failed")
	}
	if len(keys) > 0 && keystore.SameKey(keys[0].KeyID, fp) {
		log.Info("Key published")
		return newResult(http.StatusCreated, false, nil, msgKeyImported)
	}

	log.Info("Key not published by keyserver")
	return newResult(http.StatusServiceUnavailable, true, nil, msgKeyNotPublished)
}
