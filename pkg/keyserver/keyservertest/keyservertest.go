// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

// Package keyservertest provides an in-memory HKP keyserver and
// OpenPGP key helpers for tests.
package keyservertest

import (
	"bytes"
	"crypto"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ctrliq/pgpapi/pkg/keystore"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

const (
	AddRoute    = "/pks/add"
	LookupRoute = "/pks/lookup"
)

// BrokenKey is the armored block served for keys registered with
// AddBroken, it can't be parsed as an OpenPGP key.
const BrokenKey = `-----BEGIN PGP PUBLIC KEY BLOCK-----

mI0DU2ltcGxlIGJyb2tlbiBrZXkgbWF0ZXJpYWw=
-----END PGP PUBLIC KEY BLOCK-----
`

// Server is a fake HKP keyserver.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	keys      openpgp.EntityList
	broken    []string
	rejectAdd bool
	requests  map[string]int
}

// NewServer starts a keyserver serving the provided keys.
func NewServer(el ...*openpgp.Entity) *Server {
	s := &Server{
		keys:     el,
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(AddRoute, s.add)
	mux.HandleFunc(LookupRoute, s.lookup)
	s.Server = httptest.NewServer(mux)

	return s
}

// AddKeys publishes keys on the keyserver.
func (s *Server) AddKeys(el ...*openpgp.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, el...)
}

// AddBroken publishes an index entry for keyid whose key material
// can't be decoded.
func (s *Server) AddBroken(keyid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = append(s.broken, strings.ToUpper(keyid))
}

// RejectAdd makes the keyserver acknowledge submissions without
// publishing them.
func (s *Server) RejectAdd(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAdd = reject
}

// Requests returns the number of requests received for an operation,
// "add" for submissions or the lookup op value.
func (s *Server) Requests(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[op]
}

// matchKey reports whether id designates the primary key or one
// of the subkeys of e.
func matchKey(e *openpgp.Entity, id string) bool {
	if keystore.SameKey(id, fmt.Sprintf("%X", e.PrimaryKey.Fingerprint[:])) {
		return true
	}
	for _, sub := range e.Subkeys {
		if keystore.SameKey(id, fmt.Sprintf("%X", sub.PublicKey.Fingerprint[:])) {
			return true
		}
	}
	return false
}

func (s *Server) match(search string) (openpgp.EntityList, []string) {
	var el openpgp.EntityList
	var broken []string

	id := keystore.NormalizeKeyID(search)
	isID := strings.HasPrefix(search, "0x") && id != ""

	for _, e := range s.keys {
		if isID {
			if matchKey(e, id) {
				el = append(el, e)
			}
			continue
		}
		for name := range e.Identities {
			if search != "" && strings.Contains(strings.ToLower(name), strings.ToLower(search)) {
				el = append(el, e)
				break
			}
		}
	}
	if isID {
		for _, keyid := range s.broken {
			if keystore.SameKey(id, keyid) {
				broken = append(broken, keyid)
			}
		}
	}

	return el, broken
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests["add"]++

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	el, err := openpgp.ReadArmoredKeyRing(strings.NewReader(r.PostForm.Get("keytext")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	} else if len(el) == 0 {
		http.Error(w, "A key must be provided", http.StatusBadRequest)
		return
	}

	if !s.rejectAdd {
		s.keys = append(s.keys, el...)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := r.URL.Query()
	op := query.Get("op")
	s.requests[op]++

	el, broken := s.match(query.Get("search"))
	if len(el)+len(broken) == 0 {
		http.NotFound(w, r)
		return
	}

	switch op {
	case "get":
		w.Header().Set("Content-Type", "application/pgp-keys")
		if len(el) == 0 {
			fmt.Fprint(w, BrokenKey)
			return
		}
		if err := keystore.WriteArmoredKeyRing(w, el); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	case "index", "vindex":
		w.Header().Set("Content-Type", "text/plain")
		if err := writeIndex(w, el, broken); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	default:
		http.Error(w, "Not Implemented", http.StatusNotImplemented)
	}
}

// NewEntity generates a key pair for name, signed by the optional
// signers.
func NewEntity(t testing.TB, name string, signers ...*openpgp.Entity) *openpgp.Entity {
	t.Helper()

	mail := strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com"
	e, err := openpgp.NewEntity(name, "", mail, nil)
	if err != nil {
		t.Fatalf("unexpected error while generating pgp key: %s", err)
	}

	for _, signer := range signers {
		for id := range e.Identities {
			if err := e.SignIdentity(id, signer, nil); err != nil {
				t.Fatalf("while signing identity %s: %s", id, err)
			}
		}
	}

	return e
}

// CertifyWithSubkey signs every identity of e with the first subkey
// of signer instead of its primary key.
func CertifyWithSubkey(t testing.TB, e, signer *openpgp.Entity) {
	t.Helper()

	if len(signer.Subkeys) == 0 || signer.Subkeys[0].PrivateKey == nil {
		t.Fatalf("signer %s has no private subkey", signer.PrimaryKey.KeyIdString())
	}
	priv := signer.Subkeys[0].PrivateKey

	for name, id := range e.Identities {
		sig := &packet.Signature{
			SigType:      packet.SigTypeGenericCert,
			PubKeyAlgo:   priv.PubKeyAlgo,
			Hash:         crypto.SHA256,
			CreationTime: time.Now(),
			IssuerKeyId:  &priv.KeyId,
		}
		if err := sig.SignUserId(name, e.PrimaryKey, priv, nil); err != nil {
			t.Fatalf("while signing identity %s: %s", name, err)
		}
		id.Signatures = append(id.Signatures, sig)
	}
}

// Armored returns the armored public keys of the entity list.
func Armored(t testing.TB, el ...*openpgp.Entity) string {
	t.Helper()

	b := new(bytes.Buffer)
	if err := keystore.WriteArmoredKeyRing(b, el); err != nil {
		t.Fatalf("during armor encoding: %s", err)
	}

	return b.String()
}

// Fingerprint returns the upper case hexadecimal fingerprint of e.
func Fingerprint(e *openpgp.Entity) string {
	return fmt.Sprintf("%X", e.PrimaryKey.Fingerprint[:])
}
