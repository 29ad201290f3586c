// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package keyapi

import (
	"context"
	"fmt"

	"github.com/ctrliq/pgpapi/pkg/keyserver"
	"github.com/ctrliq/pgpapi/pkg/keystore"
)

// KeyStore gathers the keyserver and trust store operations
// required by the classifier and the orchestrators.
type KeyStore interface {
	SearchKeys(ctx context.Context, query string) ([]keyserver.SearchResult, error)
	RecvKeys(ctx context.Context, keyid string) error
	SendKeys(ctx context.Context, fingerprint string) error

	ImportKeys(armored string) (keystore.ImportResult, error)
	ExportKeys(keyid string) (string, error)
	ListKeys(keyid string, sigs bool) ([]keystore.KeyRecord, error)
}

// Adapter binds a keyserver client to a local trust store.
type Adapter struct {
	Keyserver *keyserver.Client
	Store     keystore.Engine
}

var _ KeyStore = &Adapter{}

func (a *Adapter) SearchKeys(ctx context.Context, query string) ([]keyserver.SearchResult, error) {
	return a.Keyserver.Search(ctx, query)
}

// RecvKeys fetches keyid from the keyserver and imports it into the
// trust store.
func (a *Adapter) RecvKeys(ctx context.Context, keyid string) error {
	armored, err := a.Keyserver.Get(ctx, keyid)
	if err != nil {
		return err
	}
	if _, err := a.Store.Import(armored); err != nil {
		return fmt.Errorf("while importing key %s: %s", keyid, err)
	}
	return nil
}

// SendKeys publishes the locally stored key to the keyserver.
func (a *Adapter) SendKeys(ctx context.Context, fingerprint string) error {
	armored, err := a.Store.Export(fingerprint)
	if err != nil {
		return fmt.Errorf("while exporting key %s: %s", fingerprint, err)
	} else if armored == "" {
		return fmt.Errorf("key %s not found in keyring", fingerprint)
	}
	return a.Keyserver.Add(ctx, armored)
}

func (a *Adapter) ImportKeys(armored string) (keystore.ImportResult, error) {
	return a.Store.Import(armored)
}

func (a *Adapter) ExportKeys(keyid string) (string, error) {
	return a.Store.Export(keyid)
}

func (a *Adapter) ListKeys(keyid string, sigs bool) ([]keystore.KeyRecord, error) {
	return a.Store.List(keyid, sigs)
}
