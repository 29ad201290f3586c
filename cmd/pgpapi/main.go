// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ctrliq/pgpapi/internal/pkg/config"
	"github.com/ctrliq/pgpapi/pkg/apiserver"
	"github.com/ctrliq/pgpapi/pkg/keyapi"
	"github.com/ctrliq/pgpapi/pkg/keyserver"
	"github.com/ctrliq/pgpapi/pkg/keystore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// set by mage at build time
var version string

var (
	configPath string
	rawOutput  bool
)

// errFailed signals an operation result with an error status code,
// the result body was already printed.
var errFailed = errors.New("operation failed")

// app holds the components opened for a command run.
type app struct {
	cfg     config.ServerConfig
	store   keystore.Engine
	service *keyapi.Service
	cleanup func()
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.cleanup != nil {
		a.cleanup()
	}
}

func openApp() (*app, error) {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return nil, fmt.Errorf("while parsing configuration file: %s", err)
	}

	if err := config.CheckServerConfig(&cfg); err != nil {
		return nil, fmt.Errorf("while checking configuration: %s", err)
	}

	a := &app{cfg: cfg}

	a.cleanup, err = config.PrepareKeyringDir(&a.cfg)
	if err != nil {
		return nil, err
	}

	a.store, err = config.OpenKeyStore(&a.cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	ks, err := keyserver.New(keyserver.Config{
		URL:       a.cfg.Keyserver,
		Timeout:   a.cfg.Timeout(),
		UserAgent: "pgpapi/" + version,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"keyserver": ks.BaseURL(),
		"keyring":   a.cfg.KeyringDir,
	}).Debug("Key store ready")

	a.service = keyapi.New(keyapi.Config{
		Store:         &keyapi.Adapter{Keyserver: ks, Store: a.store},
		MaxSearchKeys: a.cfg.MaxSearchKeys,
	})

	return a, nil
}

// printResult writes the result body to w and returns errFailed
// for error status codes.
func printResult(w io.Writer, res keyapi.Result) error {
	if key, ok := res.Body.(string); ok {
		fmt.Fprint(w, key)
	} else {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Body); err != nil {
			return err
		}
	}
	if res.Code >= 400 {
		return errFailed
	}
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		s := <-c
		logrus.WithField("signal", s).Info("Server interrupted by signal")
		cancel()
	}()

	scfg := apiserver.Config{
		Addr:         a.cfg.BindAddr,
		PublicPem:    a.cfg.Certificate.PublicKeyPath,
		PrivatePem:   a.cfg.Certificate.PrivateKeyPath,
		Service:      a.service,
		AddRateLimit: a.cfg.AddRateLimit,
		MaxBodyBytes: a.cfg.MaxBodyBytes,
	}

	logrus.WithField("listen", a.cfg.BindAddr).Info("Server started")

	return apiserver.Start(ctx, scfg)
}

func search(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	return printResult(cmd.OutOrStdout(), a.service.Search(cmd.Context(), args[0]))
}

func get(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	return printResult(cmd.OutOrStdout(), a.service.Get(cmd.Context(), args[0], rawOutput))
}

func add(cmd *cobra.Command, args []string) error {
	var (
		b   []byte
		err error
	)
	if args[0] == "-" {
		b, err = ioutil.ReadAll(cmd.InOrStdin())
	} else {
		b, err = ioutil.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("while reading key: %s", err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	return printResult(cmd.OutOrStdout(), a.service.Add(cmd.Context(), string(b)))
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pgpapi",
		Short:         "JSON HTTP facade for an HKP keyserver",
		Args:          cobra.NoArgs,
		RunE:          serve,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", filepath.Join(config.Dir, config.File), "configuration file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search and classify keys",
		Args:  cobra.ExactArgs(1),
		RunE:  search,
	}

	getCmd := &cobra.Command{
		Use:   "get <keyid>",
		Short: "Retrieve an armored key",
		Args:  cobra.ExactArgs(1),
		RunE:  get,
	}
	getCmd.Flags().BoolVar(&rawOutput, "raw", false, "print the armored key only")

	addCmd := &cobra.Command{
		Use:   "add <file|->",
		Short: "Submit an armored key to the keyserver",
		Args:  cobra.ExactArgs(1),
		RunE:  add,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(serveCmd, searchCmd, getCmd, addCmd, versionCmd)

	return rootCmd
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err == errFailed {
		os.Exit(1)
	} else if err != nil {
		logrus.WithError(err).Fatal("while running pgpapi")
	}
}
