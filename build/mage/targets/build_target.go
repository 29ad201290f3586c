// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package targets

import (
	"os"
	"strings"

	"github.com/ctrl-cmd/gobuild"
)

const mainPackage = "./cmd/pgpapi/"

// ldFlags returns linker flags passed to Go command.
func ldFlags() string {
	flags := []string{
		"-X main.version=" + getVersion(),
		"-w -extldflags \"-static\"",
	}
	return strings.Join(flags, " ")
}

// Install installs pgpapi using `go install`.
func Install() error {
	return gobuild.RunInstall("-ldflags", ldFlags(), mainPackage)
}

// Build builds pgpapi binary using `go build`.
func Build() error {
	return gobuild.RunBuild("-ldflags", ldFlags(), mainPackage)
}

func init() {
	// for static build
	os.Setenv("CGO_ENABLED", "0")
}
