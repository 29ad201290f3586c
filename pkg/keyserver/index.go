// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package keyserver

import (
	"bufio"
	"io"
	"net/url"
	"strings"
)

// field positions of the machine readable index, see
// https://tools.ietf.org/html/draft-shaw-openpgp-hkp-00#section-5.2
const (
	tagField = 0

	// pub:<keyid>:<algo>:<keylen>:<creationdate>:<expirationdate>:<flags>
	pubKeyIDField          = 1
	pubAlgoField           = 2
	pubKeyLenField         = 3
	pubCreationDateField   = 4
	pubExpirationDateField = 5
	pubFlagField           = 6
	pubFieldsCount         = 7

	// uid:<escaped uid string>:<creationdate>:<expirationdate>:<flags>
	uidIDField = 1
)

// SearchResult is a key entry returned by a keyserver index lookup.
type SearchResult struct {
	Type    string   `json:"type"`
	KeyID   string   `json:"keyid"`
	Algo    string   `json:"algo"`
	Length  string   `json:"length"`
	Date    string   `json:"date"`
	Expires string   `json:"expires"`
	Flags   string   `json:"flags"`
	UIDs    []string `json:"uids"`
}

// ParseIndex parses a machine readable index. Lines with an unknown
// tag are ignored, the server is allowed to strip trailing separators.
func ParseIndex(r io.Reader) ([]SearchResult, error) {
	var results []SearchResult

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		l := strings.TrimSpace(scanner.Text())
		if l == "" {
			continue
		}
		l += strings.Repeat(":", pubFieldsCount)
		fields := strings.Split(l, ":")

		switch fields[tagField] {
		case "pub":
			results = append(results, SearchResult{
				Type:    "pub",
				KeyID:   strings.ToUpper(fields[pubKeyIDField]),
				Algo:    fields[pubAlgoField],
				Length:  fields[pubKeyLenField],
				Date:    fields[pubCreationDateField],
				Expires: fields[pubExpirationDateField],
				Flags:   fields[pubFlagField],
				UIDs:    []string{},
			})
		case "uid":
			if len(results) == 0 {
				continue
			}
			name, err := url.QueryUnescape(fields[uidIDField])
			if err != nil {
				name = fields[uidIDField]
			}
			last := &results[len(results)-1]
			last.UIDs = append(last.UIDs, name)
		}
	}

	return results, scanner.Err()
}
