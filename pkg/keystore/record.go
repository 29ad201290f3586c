// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package keystore

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

// SignerResolver returns the user id of the key identified by the
// long key id or an empty string if the key is unknown.
type SignerResolver func(keyid string) string

// PrimaryIdentity returns the primary identity of an entity, when
// no identity is flagged as primary the first one by name is returned.
func PrimaryIdentity(e *openpgp.Entity) *openpgp.Identity {
	var first *openpgp.Identity

	for _, name := range identityNames(e) {
		id := e.Identities[name]
		if id.SelfSignature != nil && id.SelfSignature.IsPrimaryId != nil && *id.SelfSignature.IsPrimaryId {
			return id
		}
		if first == nil {
			first = id
		}
	}

	return first
}

func identityNames(e *openpgp.Entity) []string {
	names := make([]string, 0, len(e.Identities))
	for name := range e.Identities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isOwnKey reports whether keyid is the primary key or a subkey of e.
func isOwnKey(e *openpgp.Entity, keyid uint64) bool {
	if e.PrimaryKey.KeyId == keyid {
		return true
	}
	for _, sub := range e.Subkeys {
		if sub.PublicKey.KeyId == keyid {
			return true
		}
	}
	return false
}

// identitySignatures returns the signatures of an identity in packet
// order. Parsed identities already hold their self signature.
func identitySignatures(id *openpgp.Identity) []*packet.Signature {
	if id.SelfSignature == nil {
		return id.Signatures
	}
	for _, sig := range id.Signatures {
		if sig == id.SelfSignature {
			return id.Signatures
		}
	}
	return append([]*packet.Signature{id.SelfSignature}, id.Signatures...)
}

// NewKeyRecord builds the record describing e. Signatures are only
// listed when resolve is not nil.
func NewKeyRecord(e *openpgp.Entity, resolve SignerResolver) (KeyRecord, error) {
	key := e.PrimaryKey

	bitLength, err := key.BitLength()
	if err != nil {
		return KeyRecord{}, err
	}

	primary := PrimaryIdentity(e)

	ct := uint64(key.CreationTime.Unix())
	et := uint64(0)
	if primary != nil && primary.SelfSignature != nil && primary.SelfSignature.KeyLifetimeSecs != nil {
		et = ct + uint64(*primary.SelfSignature.KeyLifetimeSecs)
	}

	r := KeyRecord{
		Type:        "pub",
		Trust:       "-",
		Length:      fmt.Sprint(bitLength),
		Algo:        fmt.Sprint(int(key.PubKeyAlgo)),
		KeyID:       key.KeyIdString(),
		Date:        fmt.Sprint(ct),
		Fingerprint: fmt.Sprintf("%X", key.Fingerprint[:]),
		UIDs:        []string{},
	}
	if et != 0 {
		r.Expires = fmt.Sprint(et)
		if uint64(time.Now().Unix()) > et {
			r.Trust = "e"
		}
	}
	if len(e.Revocations) > 0 {
		r.Trust = "r"
	}

	ids := make([]*openpgp.Identity, 0, len(e.Identities))
	if primary != nil {
		ids = append(ids, primary)
	}
	for _, name := range identityNames(e) {
		if id := e.Identities[name]; id != primary {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		r.UIDs = append(r.UIDs, id.Name)
		if resolve == nil {
			continue
		}
		if r.Sigs == nil {
			r.Sigs = []Signature{}
		}
		for _, sig := range identitySignatures(id) {
			if sig.IssuerKeyId == nil {
				continue
			}
			signer := fmt.Sprintf("%016X", *sig.IssuerKeyId)
			uid := ""
			if isOwnKey(e, *sig.IssuerKeyId) {
				uid = r.UIDs[0]
			} else {
				uid = resolve(signer)
			}
			if uid == "" {
				uid = UnresolvedSigner
			}
			r.Sigs = append(r.Sigs, Signature{
				KeyID: signer,
				UID:   uid,
				Class: fmt.Sprintf("%02xx", uint8(sig.SigType)),
			})
		}
	}

	return r, nil
}
