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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jeremyhahn/go-ledgerkey/pkg/keyring"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/hid"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// KeyInfo describes a device key.
type KeyInfo struct {
	Name      string `json:"name,omitempty"`
	Index     uint32 `json:"index"`
	Neo       bool   `json:"neo"`
	Path      string `json:"path"`
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

// PrintKeyInfo prints a device key
func (p *Printer) PrintKeyInfo(info KeyInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(info)
	case OutputFormatText:
		if info.Name != "" {
			fmt.Fprintf(p.writer, "Name:       %s\n", info.Name)
		}
		fmt.Fprintf(p.writer, "Path:       %s\n", info.Path)
		fmt.Fprintf(p.writer, "Public key: %s\n", info.PublicKey)
		fmt.Fprintf(p.writer, "Address:    %s\n", info.Address)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintKeyList prints keyring entries
func (p *Printer) PrintKeyList(entries []keyring.Entry) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{"keys": entries})
	case OutputFormatText:
		if len(entries) == 0 {
			fmt.Fprintln(p.writer, "No keys found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-30s %-10s %-10s\n", "NAME", "ALGORITHM", "TYPE")
		fmt.Fprintln(p.writer, strings.Repeat("-", 52))
		for _, e := range entries {
			fmt.Fprintf(p.writer, "%-30s %-10s %-10s\n", e.Name, e.Algorithm, e.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintDevices prints attached HID interfaces
func (p *Printer) PrintDevices(devices []hid.Info) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]interface{}, len(devices))
		for i, d := range devices {
			list[i] = map[string]interface{}{
				"path":       d.Path,
				"vendor_id":  fmt.Sprintf("0x%04x", d.VendorID),
				"product_id": fmt.Sprintf("0x%04x", d.ProductID),
				"usage_page": fmt.Sprintf("0x%04x", d.UsagePage),
				"product":    d.Product,
				"serial":     d.SerialNumber,
			}
		}
		return p.printJSON(map[string]interface{}{"devices": list})
	case OutputFormatText:
		if len(devices) == 0 {
			fmt.Fprintln(p.writer, "No Ledger devices found")
			return nil
		}
		for _, d := range devices {
			fmt.Fprintf(p.writer, "  - %s\n", d)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSignature prints a hex signature
func (p *Printer) PrintSignature(key, scheme, signature string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"key":       key,
			"scheme":    scheme,
			"signature": signature,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, signature)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
