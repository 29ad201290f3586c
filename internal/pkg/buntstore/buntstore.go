// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package buntstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctrliq/pgpapi/pkg/keystore"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/buntdb"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

const Name = "bunt"

const (
	keySep    = ":"
	keyPrefix = "key" + keySep
	subPrefix = "subkey" + keySep
	dbFile    = "pubring.db"
)

var errNoIdentity = errors.New("no suitable identity found")

type entityRecord struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Fingerprint string `json:"fingerprint"`
	Key         []byte `json:"key"`
}

type Config struct {
	Dir string `yaml:"dir"`
}

type bunt struct {
	db  *buntdb.DB
	cfg Config
}

// New returns an unopened trust store engine, mostly useful for tests
// requiring isolated stores.
func New(cfg Config) keystore.Engine {
	return &bunt{cfg: cfg}
}

func (b *bunt) NewConfig() keystore.Config {
	return &b.cfg
}

func (b *bunt) Open() error {
	var err error

	if b.cfg.Dir == "" {
		b.db, err = buntdb.Open(":memory:")
	} else {
		if err := os.MkdirAll(b.cfg.Dir, 0700); err != nil {
			return fmt.Errorf("while creating keyring directory: %s", err)
		}
		b.db, err = buntdb.Open(filepath.Join(b.cfg.Dir, dbFile))
	}

	return err
}

func (b *bunt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *bunt) Import(armored string) (keystore.ImportResult, error) {
	var res keystore.ImportResult

	el, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return res, fmt.Errorf("while reading armored key ring: %s", err)
	}

	err = b.db.Update(func(tx *buntdb.Tx) error {
		for _, e := range el {
			val, err := marshalEntityRecord(e)
			if err == errNoIdentity {
				logrus.WithField("keyid", e.PrimaryKey.KeyIdString()).Debug("Skipping key without user id")
				continue
			} else if err != nil {
				return err
			}
			keyid := e.PrimaryKey.KeyIdString()
			if _, _, err := tx.Set(keyPrefix+keyid, val, nil); err != nil {
				return err
			}
			// subkeys point to their primary key for signer resolution
			for _, sub := range e.Subkeys {
				if _, _, err := tx.Set(subPrefix+sub.PublicKey.KeyIdString(), keyid, nil); err != nil {
					return err
				}
			}
			res.Fingerprints = append(res.Fingerprints, fmt.Sprintf("%X", e.PrimaryKey.Fingerprint[:]))
		}
		return nil
	})
	if err != nil {
		return keystore.ImportResult{}, err
	}

	res.Count = len(res.Fingerprints)
	if res.Count == 0 {
		return res, keystore.ErrNoKeys
	}

	return res, nil
}

func (b *bunt) Export(keyid string) (string, error) {
	var el openpgp.EntityList

	err := b.db.View(func(tx *buntdb.Tx) error {
		vals, err := lookup(tx, keyid)
		if err != nil {
			return err
		}
		for _, val := range vals {
			e, err := unmarshalEntityRecord(val)
			if err != nil {
				return err
			}
			el = append(el, e)
		}
		return nil
	})
	if err != nil || len(el) == 0 {
		return "", err
	}

	buf := new(bytes.Buffer)
	if err := keystore.WriteArmoredKeyRing(buf, el); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (b *bunt) List(keyid string, sigs bool) ([]keystore.KeyRecord, error) {
	var records []keystore.KeyRecord

	err := b.db.View(func(tx *buntdb.Tx) error {
		vals, err := lookup(tx, keyid)
		if err != nil {
			return err
		}

		var resolve keystore.SignerResolver
		if sigs {
			resolve = func(signer string) string {
				val, err := tx.Get(keyPrefix + signer)
				if err == buntdb.ErrNotFound {
					// certification issued by a signer subkey
					if primary, serr := tx.Get(subPrefix + signer); serr == nil {
						val, err = tx.Get(keyPrefix + primary)
					}
				}
				if err != nil {
					return ""
				}
				return gjson.Get(val, "uid").String()
			}
		}

		for _, val := range vals {
			e, err := unmarshalEntityRecord(val)
			if err != nil {
				return err
			}
			r, err := keystore.NewKeyRecord(e, resolve)
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})

	return records, err
}

// lookup returns the stored records matching keyid, which may be a
// short key id, a long key id or a fingerprint.
func lookup(tx *buntdb.Tx, keyid string) ([]string, error) {
	var vals []string

	id := keystore.NormalizeKeyID(keyid)

	switch len(id) {
	case 40, 16:
		val, err := tx.Get(keyPrefix + id[len(id)-16:])
		if err == buntdb.ErrNotFound {
			return nil, nil
		} else if err != nil {
			return nil, err
		}
		if len(id) == 40 && gjson.Get(val, "fingerprint").String() != id {
			return nil, nil
		}
		vals = append(vals, val)
	case 8:
		err := tx.AscendKeys(keyPrefix+"*"+id, func(key, val string) bool {
			vals = append(vals, val)
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	return vals, nil
}

func marshalEntityRecord(e *openpgp.Entity) (string, error) {
	identity := keystore.PrimaryIdentity(e)
	if identity == nil {
		return "", errNoIdentity
	}

	buf := new(bytes.Buffer)
	// private key material is never stored
	if err := e.Serialize(buf); err != nil {
		return "", err
	}

	er := entityRecord{
		UID:         identity.Name,
		Name:        identity.UserId.Name,
		Email:       identity.UserId.Email,
		Fingerprint: fmt.Sprintf("%X", e.PrimaryKey.Fingerprint[:]),
		Key:         buf.Bytes(),
	}

	b, err := json.Marshal(&er)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func unmarshalEntityRecord(val string) (*openpgp.Entity, error) {
	var er entityRecord

	if err := json.Unmarshal([]byte(val), &er); err != nil {
		return nil, err
	}

	packets := packet.NewReader(bytes.NewReader(er.Key))
	e, err := openpgp.ReadEntity(packets)
	if err == io.EOF {
		return nil, fmt.Errorf("empty key record")
	} else if err != nil {
		return nil, err
	}

	return e, nil
}

func init() {
	keystore.RegisterEngine(Name, new(bunt))
}
