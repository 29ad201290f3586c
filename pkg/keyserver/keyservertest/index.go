// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package keyservertest

import (
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ctrliq/pgpapi/pkg/keystore"
	"golang.org/x/crypto/openpgp"
)

func printEntity(w io.Writer, e *openpgp.Entity) error {
	key := e.PrimaryKey

	bitLength, err := key.BitLength()
	if err != nil {
		return err
	}

	ct := uint64(key.CreationTime.Unix())
	et := uint64(0)
	selfSig := keystore.PrimaryIdentity(e).SelfSignature
	if selfSig.KeyLifetimeSecs != nil {
		et = ct + uint64(*selfSig.KeyLifetimeSecs)
	}
	expiration := ""
	if et != 0 {
		expiration = fmt.Sprint(et)
	}

	flags := ""
	if selfSig.SigExpired(time.Now()) {
		flags += "e"
	}
	if len(e.Revocations) > 0 {
		flags += "r"
	}

	_, err = fmt.Fprintf(
		w,
		"pub:%X:%d:%d:%d:%s:%s\n",
		key.Fingerprint[:], key.PubKeyAlgo, bitLength, ct, expiration, flags,
	)
	if err != nil {
		return err
	}

	for _, id := range e.Identities {
		if id.SelfSignature == nil {
			continue
		}
		_, err := fmt.Fprintf(
			w,
			"uid:%s:%d::\n",
			url.QueryEscape(id.Name), id.SelfSignature.CreationTime.Unix(),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// writeIndex writes a machine readable index for the entity list
// followed by the entries of unparseable keys.
func writeIndex(w io.Writer, el openpgp.EntityList, broken []string) error {
	_, err := fmt.Fprintf(w, "info:1:%d\n", len(el)+len(broken))
	if err != nil {
		return err
	}

	for _, e := range el {
		if err := printEntity(w, e); err != nil {
			return err
		}
	}
	for _, keyid := range broken {
		if _, err := fmt.Fprintf(w, "pub:%s:1:1024:0::\n", keyid); err != nil {
			return err
		}
	}

	return nil
}
