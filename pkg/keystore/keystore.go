// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

// Package keystore defines the local trust store used to import,
// export and inspect OpenPGP public keys.
package keystore

import (
	"errors"
	"strings"
)

// ErrNoKeys is returned when an import doesn't contain any usable key.
var ErrNoKeys = errors.New("no valid OpenPGP key found")

// UnresolvedSigner is the user id reported for a signature made by
// a key which is not present in the trust store.
const UnresolvedSigner = "[User ID not found]"

// IsUnresolved reports whether uid is a placeholder standing for an
// unknown signer identity rather than a real user id.
func IsUnresolved(uid string) bool {
	return len(uid) >= 2 && uid[0] == '[' && uid[len(uid)-1] == ']'
}

type Config interface{}

var engines = make(map[string]Engine)

// RegisterEngine makes a trust store engine available by name.
func RegisterEngine(name string, e Engine) {
	engines[name] = e
}

// GetEngine returns the trust store engine registered with name.
func GetEngine(name string) (Engine, bool) {
	e, ok := engines[name]
	return e, ok
}

// Signature describes a certification found on a key user id.
type Signature struct {
	KeyID string `json:"keyid"`
	UID   string `json:"uid"`
	Class string `json:"class"`
}

// KeyRecord is the local view of a public key.
type KeyRecord struct {
	Type        string      `json:"type"`
	Trust       string      `json:"trust"`
	Length      string      `json:"length"`
	Algo        string      `json:"algo"`
	KeyID       string      `json:"keyid"`
	Date        string      `json:"date"`
	Expires     string      `json:"expires"`
	Fingerprint string      `json:"fingerprint"`
	UIDs        []string    `json:"uids"`
	Sigs        []Signature `json:"sigs,omitempty"`
}

// ImportResult reports the keys stored by an import.
type ImportResult struct {
	Count        int      `json:"count"`
	Fingerprints []string `json:"fingerprints"`
}

// Engine is the interface implemented by trust store engines.
type Engine interface {
	NewConfig() Config

	Open() error
	Close() error

	Import(armored string) (ImportResult, error)
	Export(keyid string) (string, error)
	List(keyid string, sigs bool) ([]KeyRecord, error)
}

// NormalizeKeyID strips an optional 0x prefix and returns the upper
// case hexadecimal key id, or an empty string if s isn't an 8, 16 or
// 40 hexadecimal digits identifier.
func NormalizeKeyID(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	switch len(s) {
	case 8, 16, 40:
	default:
		return ""
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return ""
		}
	}
	return strings.ToUpper(s)
}

// SameKey reports whether two key identifiers designate the same key,
// a short or long key id matches the fingerprint it is the suffix of.
func SameKey(a, b string) bool {
	a, b = NormalizeKeyID(a), NormalizeKeyID(b)
	if a == "" || b == "" {
		return false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return strings.HasSuffix(b, a)
}
