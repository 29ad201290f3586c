// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/ctrliq/pgpapi/internal/pkg/buntstore"
	"github.com/ctrliq/pgpapi/pkg/apiserver"
	"github.com/ctrliq/pgpapi/pkg/keyapi"
	"github.com/ctrliq/pgpapi/pkg/keyserver"
	"github.com/ctrliq/pgpapi/pkg/keystore"
	"gopkg.in/yaml.v3"
)

const (
	Dir  = "/usr/local/etc/pgpapi"
	File = "server.yaml"
)

const (
	bindAddrEnv         = "PGPAPI_BIND_ADDRESS"
	keyserverEnv        = "PGPAPI_KEYSERVER"
	keyserverTimeoutEnv = "PGPAPI_KEYSERVER_TIMEOUT"
	keyringDirEnv       = "PGPAPI_GNUPG_HOME"
	maxSearchKeysEnv    = "PGPAPI_MAX_SEARCH_KEYS"
	addRateLimitEnv     = "PGPAPI_ADD_RATE_LIMIT"
	publicKeyEnv        = "PGPAPI_PUBLIC_KEY_CERT"
	privateKeyEnv       = "PGPAPI_PRIVATE_KEY_CERT"
)

type Certificate struct {
	PublicKeyPath  string `yaml:"public-key"`
	PrivateKeyPath string `yaml:"private-key"`
}

type ServerConfig struct {
	BindAddr string `yaml:"bind-address"`

	Keyserver        string `yaml:"keyserver"`
	KeyserverTimeout string `yaml:"keyserver-timeout"`

	KeyringDir string `yaml:"keyring-dir"`
	KeyStore   string `yaml:"keystore"`

	MaxSearchKeys int                 `yaml:"max-search-keys"`
	AddRateLimit  apiserver.RateLimit `yaml:"add-rate-limit"`
	MaxBodyBytes  int64               `yaml:"max-body-bytes"`

	Certificate Certificate `yaml:"certificate"`
}

var DefaultServerConfig ServerConfig = ServerConfig{
	BindAddr:         apiserver.DefaultAddr,
	Keyserver:        keyserver.DefaultURL,
	KeyserverTimeout: keyserver.DefaultTimeout.String(),
	KeyStore:         buntstore.Name,
	MaxSearchKeys:    keyapi.DefaultMaxSearchKeys,
	AddRateLimit:     "10/1",
	MaxBodyBytes:     apiserver.DefaultMaxBodyBytes,
}

// Parse reads the configuration file at path, a missing file
// returns the default configuration.
func Parse(path string) (ServerConfig, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return ServerConfig{}, err
	} else if os.IsNotExist(err) {
		return DefaultServerConfig, nil
	}

	srvConfig := DefaultServerConfig
	if err := yaml.Unmarshal(b, &srvConfig); err != nil {
		return ServerConfig{}, err
	}

	if srvConfig.KeyStore == "" {
		srvConfig.KeyStore = buntstore.Name
	}
	if _, ok := keystore.GetEngine(srvConfig.KeyStore); !ok {
		return ServerConfig{}, fmt.Errorf("unknown keystore engine '%s'", srvConfig.KeyStore)
	}

	return srvConfig, nil
}

func CheckServerConfig(cfg *ServerConfig) error {
	// get environment to take precedence over configuration file
	env := os.Getenv(bindAddrEnv)
	if env != "" {
		cfg.BindAddr = env
	}
	env = os.Getenv(keyserverEnv)
	if env != "" {
		cfg.Keyserver = env
	}
	env = os.Getenv(keyserverTimeoutEnv)
	if env != "" {
		cfg.KeyserverTimeout = env
	}
	env = os.Getenv(keyringDirEnv)
	if env != "" {
		cfg.KeyringDir = env
	}
	env = os.Getenv(maxSearchKeysEnv)
	if env != "" {
		n, err := strconv.Atoi(env)
		if err != nil {
			n = keyapi.DefaultMaxSearchKeys
		}
		cfg.MaxSearchKeys = n
	}
	env = os.Getenv(addRateLimitEnv)
	if env != "" {
		cfg.AddRateLimit = apiserver.RateLimit(env)
	}
	env = os.Getenv(publicKeyEnv)
	if env != "" {
		cfg.Certificate.PublicKeyPath = env
	}
	env = os.Getenv(privateKeyEnv)
	if env != "" {
		cfg.Certificate.PrivateKeyPath = env
	}

	if cfg.MaxSearchKeys <= 0 {
		cfg.MaxSearchKeys = keyapi.DefaultMaxSearchKeys
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = apiserver.DefaultMaxBodyBytes
	}
	if _, err := keyserver.NormalizeURL(cfg.Keyserver); err != nil {
		return err
	}
	if cfg.KeyserverTimeout != "" {
		if _, err := time.ParseDuration(cfg.KeyserverTimeout); err != nil {
			return fmt.Errorf("while parsing keyserver-timeout: %s", err)
		}
	}
	if _, _, err := cfg.AddRateLimit.Parse(); err != nil {
		return err
	}
	if (cfg.Certificate.PublicKeyPath == "") != (cfg.Certificate.PrivateKeyPath == "") {
		return fmt.Errorf("both certificate public-key and private-key must be set")
	}

	return nil
}

// Timeout returns the keyserver timeout, or the default timeout
// when unset or invalid.
func (cfg ServerConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(cfg.KeyserverTimeout)
	if err != nil || d <= 0 {
		return keyserver.DefaultTimeout
	}
	return d
}

// PrepareKeyringDir creates the keyring directory, an unset directory
// is replaced by a private temporary directory removed by the returned
// cleanup function.
func PrepareKeyringDir(cfg *ServerConfig) (func(), error) {
	if cfg.KeyringDir != "" {
		if err := os.MkdirAll(cfg.KeyringDir, 0700); err != nil {
			return nil, fmt.Errorf("while creating keyring directory: %s", err)
		}
		return func() {}, nil
	}

	dir, err := os.MkdirTemp("", "pgpapi-")
	if err != nil {
		return nil, fmt.Errorf("while creating temporary keyring directory: %s", err)
	}
	cfg.KeyringDir = dir

	return func() { os.RemoveAll(dir) }, nil
}

// OpenKeyStore opens the configured keystore engine within the
// keyring directory.
func OpenKeyStore(cfg *ServerConfig) (keystore.Engine, error) {
	engine, ok := keystore.GetEngine(cfg.KeyStore)
	if !ok {
		return nil, fmt.Errorf("no keystore engine %s", cfg.KeyStore)
	}

	// engine configurations share the dir setting
	b, err := yaml.Marshal(map[string]interface{}{"dir": cfg.KeyringDir})
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, engine.NewConfig()); err != nil {
		return nil, fmt.Errorf("while configuring keystore: %s", err)
	}

	if err := engine.Open(); err != nil {
		return nil, fmt.Errorf("while opening keystore: %s", err)
	}

	return engine, nil
}
