// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package keystore

import (
	"io"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

// WriteArmoredKeyRing writes the armored ASCII format of the
// entity list to w. Only public key material is written.
func WriteArmoredKeyRing(w io.Writer, el openpgp.EntityList) error {
	aw, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return err
	}

	for _, e := range el {
		if err := e.Serialize(aw); err != nil {
			aw.Close()
			return err
		}
	}

	return aw.Close()
}
