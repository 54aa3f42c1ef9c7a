// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ledgerkey.
//
// go-ledgerkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"os"

	"github.com/jeremyhahn/go-ledgerkey/internal/cli"
	"github.com/jeremyhahn/go-ledgerkey/internal/server"
)

func main() {
	// Setup signal handler so a pending device confirmation can be abandoned
	ctx := server.SetupSignalHandler()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
