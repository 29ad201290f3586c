// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package targets

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/ctrl-cmd/gobuild"
	"github.com/magefile/mage/mg"
)

type Package mg.Namespace

const (
	nfpmConf = "./build/packaging/nfpm.yaml"
)

// writeRelease creates name in the release directory and fills it
// with write.
func writeRelease(name string, write func(f *os.File) error) error {
	path := filepath.Join(getReleaseDir(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return write(f)
}

// Tgz creates a release tar gzipped source archive.
func (Package) Tgz() error {
	archive, err := gobuild.NewGitArchive(getPackageFile(packageName, ""))
	if err != nil {
		return err
	}
	return writeRelease(getPackageFile(packageName, "tgz"), func(f *os.File) error {
		return archive.Create(gobuild.TgzArchive, f)
	})
}

// Zip creates a release zip source archive.
func (Package) Zip() error {
	archive, err := gobuild.NewGitArchive(getPackageFile(packageName, ""))
	if err != nil {
		return err
	}
	return writeRelease(getPackageFile(packageName, "zip"), func(f *os.File) error {
		return archive.Create(gobuild.ZipArchive, f)
	})
}

// Deb builds the pgpapi deb package, binary and sample configuration
// are listed in the nfpm configuration.
func (Package) Deb() error {
	mg.Deps(Build)

	config, err := os.Open(nfpmConf)
	if err != nil {
		return err
	}
	defer config.Close()

	p, err := gobuild.NewPackage(config, gobuild.DEB, getVersion(), runtime.GOARCH)
	if err != nil {
		return err
	}
	return writeRelease(p.Info.Target, func(f *os.File) error {
		return p.Create(f)
	})
}

// RPM builds the pgpapi RPM package.
func (Package) RPM() error {
	mg.Deps(Build)

	config, err := os.Open(nfpmConf)
	if err != nil {
		return err
	}
	defer config.Close()

	p, err := gobuild.NewPackage(config, gobuild.RPM, getVersion(), runtime.GOARCH)
	if err != nil {
		return err
	}
	return writeRelease(p.Info.Target, func(f *os.File) error {
		return p.Create(f)
	})
}
