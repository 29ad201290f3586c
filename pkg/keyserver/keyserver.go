// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

// Package keyserver implements the HKP operations pgpapi relies on:
// index search, key retrieval and key submission.
package keyserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/apptainer/container-key-client/client"
)

const (
	DefaultURL     = "hkp://pgp.mit.edu"
	DefaultTimeout = 10 * time.Second

	hkpPort = "11371"
)

// ErrNotFound is returned when the keyserver doesn't know the key.
var ErrNotFound = errors.New("key not found on keyserver")

var isHexID = regexp.MustCompile(`^(0x|0X)?[0-9a-fA-F]{8,}$`).MatchString

type Config struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Client is an HKP keyserver client, every call is bounded by
// the configured timeout.
type Client struct {
	c       *client.Client
	baseURL string
	timeout time.Duration
}

// NormalizeURL converts a keyserver address into the HTTP base URL
// used to reach it. Bare host names are considered HKP addresses.
func NormalizeURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = DefaultURL
	}
	if !strings.Contains(addr, "://") {
		addr = "hkp://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("while parsing keyserver address: %s", err)
	} else if u.Host == "" {
		return "", fmt.Errorf("keyserver address %q has no host", addr)
	}

	switch u.Scheme {
	case "hkp":
		u.Scheme = "http"
		if u.Port() == "" {
			u.Host += ":" + hkpPort
		}
	case "hkps":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported keyserver scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// New returns a keyserver client for the configured address.
func New(cfg Config) (*Client, error) {
	baseURL, err := NormalizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := []client.Option{
		client.OptBaseURL(baseURL),
		client.OptHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, client.OptUserAgent(cfg.UserAgent))
	}

	c, err := client.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("while creating keyserver client: %s", err)
	}

	return &Client{c: c, baseURL: baseURL, timeout: timeout}, nil
}

// BaseURL returns the HTTP address of the keyserver.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func isNotFound(err error) bool {
	var httpError *client.HTTPError
	return errors.As(err, &httpError) && httpError.Code() == http.StatusNotFound
}

// Search looks up keys matching query. Hexadecimal queries are
// searched as key ids. No match is not an error.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	search := query
	if isHexID(query) && !strings.HasPrefix(strings.ToLower(query), "0x") {
		search = "0x" + query
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pd := client.PageDetails{}
	options := []string{client.OptionMachineReadable}

	text, err := c.c.PKSLookup(ctx, &pd, search, client.OperationIndex, false, false, options)
	if isNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("while searching keyserver: %s", err)
	}

	return ParseIndex(strings.NewReader(text))
}

// Get retrieves the armored key identified by keyid.
func (c *Client) Get(ctx context.Context, keyid string) (string, error) {
	search := strings.TrimPrefix(strings.TrimPrefix(keyid, "0x"), "0X")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pd := client.PageDetails{}
	options := []string{client.OptionMachineReadable}

	text, err := c.c.PKSLookup(ctx, &pd, "0x"+search, client.OperationGet, false, false, options)
	if isNotFound(err) {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("while fetching key %s: %s", keyid, err)
	}

	return text, nil
}

// Add submits an armored key to the keyserver.
func (c *Client) Add(ctx context.Context, armored string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.c.PKSAdd(ctx, armored); err != nil {
		return fmt.Errorf("keyserver did not accept key: %s", err)
	}

	return nil
}
