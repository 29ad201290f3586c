// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package keyserver_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ctrliq/pgpapi/pkg/keyserver"
	"github.com/ctrliq/pgpapi/pkg/keyserver/keyservertest"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "", want: "http://pgp.mit.edu:11371"},
		{addr: "pgp.mit.edu", want: "http://pgp.mit.edu:11371"},
		{addr: "hkp://keys.example.com:8080", want: "http://keys.example.com:8080"},
		{addr: "hkps://keys.openpgp.org", want: "https://keys.openpgp.org"},
		{addr: "https://keyserver.ubuntu.com/", want: "https://keyserver.ubuntu.com"},
		{addr: "ftp://keys.example.com", wantErr: true},
		{addr: "hkp://", wantErr: true},
	}

	for _, tt := range tests {
		got, err := keyserver.NormalizeURL(tt.addr)
		if tt.wantErr {
			if err == nil {
				t.Errorf("expected error for %q", tt.addr)
			}
			continue
		} else if err != nil {
			t.Errorf("unexpected error for %q: %s", tt.addr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("unexpected url for %q: got %s instead of %s", tt.addr, got, tt.want)
		}
	}
}

func TestParseIndex(t *testing.T) {
	index := `info:1:2
pub:D7D615B69DFC688E06120164BD41447DE05755B9:1:4096:1434476898::
uid:Alice%20%3Calice%40example.com%3E:1434476898::
uid:Alice%3A work
pub:dc6e1684ed5dee87:17:1024:945129600
`

	results, err := keyserver.ParseIndex(strings.NewReader(index))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(results) != 2 {
		t.Fatalf("unexpected number of results: got %d instead of 2", len(results))
	}

	first := results[0]
	if first.KeyID != "D7D615B69DFC688E06120164BD41447DE05755B9" {
		t.Errorf("unexpected key id: %s", first.KeyID)
	}
	if first.Length != "4096" || first.Date != "1434476898" || first.Algo != "1" {
		t.Errorf("unexpected key fields: %+v", first)
	}
	if len(first.UIDs) != 2 || first.UIDs[0] != "Alice <alice@example.com>" || first.UIDs[1] != "Alice: work" {
		t.Errorf("unexpected uids: %q", first.UIDs)
	}

	second := results[1]
	if second.KeyID != "DC6E1684ED5DEE87" || second.Expires != "" || len(second.UIDs) != 0 {
		t.Errorf("unexpected second result: %+v", second)
	}
}

func TestClient(t *testing.T) {
	alice := keyservertest.NewEntity(t, "Alice")

	srv := keyservertest.NewServer(alice)
	defer srv.Close()
	srv.AddBroken("DC6E1684ED5DEE87")

	c, err := keyserver.New(keyserver.Config{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error while creating client: %s", err)
	}

	ctx := context.Background()
	fp := keyservertest.Fingerprint(alice)

	results, err := c.Search(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected search error: %s", err)
	} else if len(results) != 1 || results[0].KeyID != fp {
		t.Errorf("unexpected search results: %+v", results)
	}

	results, err = c.Search(ctx, alice.PrimaryKey.KeyIdString())
	if err != nil {
		t.Fatalf("unexpected search error: %s", err)
	} else if len(results) != 1 {
		t.Errorf("unexpected number of results for key id search: %d", len(results))
	}

	results, err = c.Search(ctx, "N0T_3X1ST3NT_KEY")
	if err != nil {
		t.Errorf("unexpected error for empty search: %s", err)
	} else if len(results) != 0 {
		t.Errorf("unexpected results for empty search: %+v", results)
	}

	key, err := c.Get(ctx, alice.PrimaryKey.KeyIdString())
	if err != nil {
		t.Fatalf("unexpected get error: %s", err)
	} else if !strings.Contains(key, "BEGIN PGP PUBLIC KEY BLOCK") {
		t.Errorf("unexpected key returned: %s", key)
	}

	if _, err := c.Get(ctx, "0000000000000000"); err != keyserver.ErrNotFound {
		t.Errorf("unexpected error for unknown key: %v", err)
	}

	bob := keyservertest.NewEntity(t, "Bob")
	if err := c.Add(ctx, keyservertest.Armored(t, bob)); err != nil {
		t.Fatalf("unexpected add error: %s", err)
	}
	results, err = c.Search(ctx, keyservertest.Fingerprint(bob))
	if err != nil || len(results) != 1 {
		t.Errorf("submitted key not found: %v %+v", err, results)
	}
	if n := srv.Requests("add"); n != 1 {
		t.Errorf("unexpected number of add requests: %d", n)
	}
}
