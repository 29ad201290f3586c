// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package keystore

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/openpgp"
)

func newEntity(t *testing.T, name string) *openpgp.Entity {
	t.Helper()

	e, err := openpgp.NewEntity(name, "", "", nil)
	if err != nil {
		t.Fatalf("unexpected error while generating pgp key: %s", err)
	}
	return e
}

func reparse(t *testing.T, e *openpgp.Entity) *openpgp.Entity {
	t.Helper()

	b := new(bytes.Buffer)
	if err := WriteArmoredKeyRing(b, openpgp.EntityList{e}); err != nil {
		t.Fatalf("unexpected error while armoring key: %s", err)
	}
	el, err := openpgp.ReadArmoredKeyRing(b)
	if err != nil {
		t.Fatalf("unexpected error while reading key: %s", err)
	} else if len(el) != 1 {
		t.Fatalf("unexpected number of keys: %d", len(el))
	}
	return el[0]
}

func TestNewKeyRecordSelfSignature(t *testing.T) {
	alice := newEntity(t, "Alice")
	resolve := func(string) string { return "" }

	tests := []struct {
		name string
		e    *openpgp.Entity
	}{
		{"generated key", alice},
		{"parsed key", reparse(t, alice)},
	}

	for _, tt := range tests {
		r, err := NewKeyRecord(tt.e, resolve)
		if err != nil {
			t.Fatalf("unexpected error for %q: %s", tt.name, err)
		}
		if len(r.Sigs) != 1 {
			t.Errorf("unexpected signatures for %q: %+v", tt.name, r.Sigs)
			continue
		}
		self := r.Sigs[0]
		if self.KeyID != alice.PrimaryKey.KeyIdString() || self.UID != "Alice" || self.Class != "13x" {
			t.Errorf("unexpected self signature for %q: %+v", tt.name, self)
		}
	}

	r, err := NewKeyRecord(alice, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if r.Sigs != nil {
		t.Errorf("signatures listed without resolver: %+v", r.Sigs)
	}
}

func TestNewKeyRecordSigners(t *testing.T) {
	alice := newEntity(t, "Alice")
	bob := newEntity(t, "Bob")

	for id := range alice.Identities {
		if err := alice.SignIdentity(id, bob, nil); err != nil {
			t.Fatalf("unexpected error while signing identity: %s", err)
		}
	}
	alice = reparse(t, alice)

	bobID := bob.PrimaryKey.KeyIdString()

	tests := []struct {
		name    string
		resolve SignerResolver
		uid     string
	}{
		{"unknown signer", func(string) string { return "" }, UnresolvedSigner},
		{"known signer", func(keyid string) string {
			if keyid == bobID {
				return "Bob"
			}
			return ""
		}, "Bob"},
	}

	for _, tt := range tests {
		r, err := NewKeyRecord(alice, tt.resolve)
		if err != nil {
			t.Fatalf("unexpected error for %q: %s", tt.name, err)
		}
		if len(r.Sigs) != 2 {
			t.Errorf("unexpected signatures for %q: %+v", tt.name, r.Sigs)
			continue
		}
		if r.Sigs[0].KeyID != alice.PrimaryKey.KeyIdString() {
			t.Errorf("self signature not listed first for %q: %+v", tt.name, r.Sigs)
		}
		if r.Sigs[1].KeyID != bobID || r.Sigs[1].UID != tt.uid || r.Sigs[1].Class != "10x" {
			t.Errorf("unexpected signer for %q: %+v", tt.name, r.Sigs[1])
		}
	}
}
