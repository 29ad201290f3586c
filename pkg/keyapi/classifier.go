// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package keyapi

import (
	"context"

	"github.com/ctrliq/pgpapi/pkg/keyserver"
	"github.com/ctrliq/pgpapi/pkg/keystore"
	"github.com/sirupsen/logrus"
)

// Classification partitions search results between keys which
// could be imported and keys which couldn't.
type Classification struct {
	Good []keystore.KeyRecord     `json:"good"`
	Bad  []keyserver.SearchResult `json:"bad"`
}

// Classifier imports search results into the trust store and
// resolves the signers of the imported keys.
type Classifier struct {
	Store KeyStore
}

// Classify processes candidates sequentially, in order. A candidate
// which can't be read back from the trust store is bad.
func (c *Classifier) Classify(ctx context.Context, candidates []keyserver.SearchResult) Classification {
	cl := Classification{
		Good: []keystore.KeyRecord{},
		Bad:  []keyserver.SearchResult{},
	}

	for _, candidate := range candidates {
		if r, ok := c.resolve(ctx, candidate.KeyID); ok {
			cl.Good = append(cl.Good, r)
		} else {
			cl.Bad = append(cl.Bad, candidate)
		}
	}

	return cl
}

func (c *Classifier) list(keyid string) (keystore.KeyRecord, bool) {
	records, err := c.Store.ListKeys(keyid, true)
	if err != nil {
		logrus.WithError(err).WithField("keyid", keyid).Warn("Failed to list key")
		return keystore.KeyRecord{}, false
	} else if len(records) == 0 {
		return keystore.KeyRecord{}, false
	}
	return records[0], true
}

func (c *Classifier) resolve(ctx context.Context, keyid string) (keystore.KeyRecord, bool) {
	log := logrus.WithField("keyid", keyid)

	if err := c.Store.RecvKeys(ctx, keyid); err != nil {
		log.WithError(err).Debug("Failed to receive key")
	}

	r, ok := c.list(keyid)
	if !ok {
		log.Debug("Key could not be imported")
		return r, false
	}

	fetched := make(map[string]bool)
	for _, sig := range r.Sigs {
		if !keystore.IsUnresolved(sig.UID) || fetched[sig.KeyID] {
			continue
		}
		fetched[sig.KeyID] = true
		if err := c.Store.RecvKeys(ctx, sig.KeyID); err != nil {
			log.WithError(err).WithField("signer", sig.KeyID).Debug("Failed to receive signer key")
		}
	}
	if len(fetched) == 0 {
		return r, true
	}

	if updated, ok := c.list(keyid); ok {
		return updated, true
	}
	return r, true
}
