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

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-ledgerkey/internal/server"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/hid"
)

// app is the state shared by every command of one invocation.
type app struct {
	config     *Config
	out        io.Writer
	errOut     io.Writer
	enumerator hid.Enumerator
}

func (a *app) printer() *Printer {
	return NewPrinter(a.config.OutputFormat, a.out)
}

// server loads the configuration and builds a server. Callers close it.
func (a *app) server() (*server.Server, error) {
	cfg, err := a.config.Load()
	if err != nil {
		return nil, err
	}
	return server.New(cfg, server.Options{
		LogOutput:  a.errOut,
		Enumerator: a.enumerator,
	})
}

// printVerbose prints a message if verbose mode is enabled
func (a *app) printVerbose(format string, args ...interface{}) {
	if a.config.Verbose {
		fmt.Fprintf(a.errOut, "[VERBOSE] "+format+"\n", args...)
	}
}

// NewRootCommand builds the ledgerkey command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(&app{
		config:     NewConfig(),
		out:        out,
		errOut:     errOut,
		enumerator: hid.DefaultEnumerator(),
	})
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ledgerkey",
		Short: "ledgerkey - sign with keys held by a Ledger device",
		Long: `ledgerkey keeps a keyring of Ledger-backed keys and signs transactions
on the device. Only the key index and public key are stored on the host.

Supported transports:
  - hid:      USB HID (default)
  - u2f:      APDUs tunnelled through U2F authentication
  - ipc:      a helper process speaking CBOR on stdio
  - bridge:   a remote "ledgerkey bridge ws" over WebSocket
  - speculos: the Speculos emulator REST API
  - emulator: an in-process software device for testing`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.config.ConfigFile, "config", "",
		"config file (YAML)")
	flags.StringVarP(&a.config.Transport, "transport", "t", "",
		"transport to use (hid, u2f, ipc, bridge, speculos, emulator)")
	flags.StringVarP(&a.config.OutputFormat, "output", "o", string(OutputFormatText),
		"output format (text, json)")
	flags.BoolVarP(&a.config.Verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(newVersionCmd(a))
	rootCmd.AddCommand(newDevicesCmd(a))
	rootCmd.AddCommand(newPubkeyCmd(a))
	rootCmd.AddCommand(newKeyCmd(a))
	rootCmd.AddCommand(newBridgeCmd(a))
	rootCmd.AddCommand(newSpeculosCmd(a))
	return rootCmd
}

// Execute runs the root command. Errors are printed to stderr before
// being returned.
func Execute(ctx context.Context) error {
	cmd := NewRootCommand(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		format, _ := cmd.PersistentFlags().GetString("output")
		_ = NewPrinter(format, os.Stderr).PrintError(err)
		return err
	}
	return nil
}
