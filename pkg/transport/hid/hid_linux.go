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

//go:build linux

package hid

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// hidraw ioctl requests.
const (
	hidiocgrdescsize = 0x80044801
	hidiocgrawinfo   = 0x80084803
)

type hidrawDevInfo struct {
	bustype uint32
	vendor  int16
	product int16
}

const sysClassHidraw = "/sys/class/hidraw"

// linuxEnumerator finds devices under /sys/class/hidraw.
type linuxEnumerator struct{}

// DefaultEnumerator returns the platform enumerator.
func DefaultEnumerator() Enumerator {
	return linuxEnumerator{}
}

func (linuxEnumerator) Enumerate(filter Filter) ([]Info, error) {
	entries, err := os.ReadDir(sysClassHidraw)
	if err != nil {
		return nil, fmt.Errorf("hid: read hidraw devices: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		info, ok := sysfsInfo(entry.Name())
		if !ok || !filter.Matches(info) {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (linuxEnumerator) Open(path string) (Device, error) {
	info, _ := sysfsInfo(filepath.Base(path))
	info.Path = path

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("hid: open %s: %w", path, err)
	}

	fd := int(f.Fd())
	if _, err := unix.IoctlGetUint32(fd, hidiocgrdescsize); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("hid: %s is not a hidraw node: %w", path, err)
	}
	var raw hidrawDevInfo
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), hidiocgrawinfo, uintptr(unsafe.Pointer(&raw))); errno != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("hid: HIDIOCGRAWINFO %s: %w", path, errno)
	}
	info.VendorID = uint16(raw.vendor)
	info.ProductID = uint16(raw.product)

	return &linuxDevice{file: f, info: info}, nil
}

// linuxDevice is an open hidraw node.
type linuxDevice struct {
	mu   sync.Mutex
	file *os.File
	info Info
}

// Write prefixes the report with report ID 0 as hidraw expects.
func (d *linuxDevice) Write(report []byte) (int, error) {
	d.mu.Lock()
	f := d.file
	d.mu.Unlock()
	if f == nil {
		return 0, ErrClosed
	}
	buf := make([]byte, len(report)+1)
	copy(buf[1:], report)
	n, err := f.Write(buf)
	if n > 0 {
		n--
	}
	return n, err
}

func (d *linuxDevice) Read(buf []byte) (int, error) {
	d.mu.Lock()
	f := d.file
	d.mu.Unlock()
	if f == nil {
		return 0, ErrClosed
	}
	return f.Read(buf)
}

func (d *linuxDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *linuxDevice) Info() Info {
	return d.info
}

func sysfsInfo(name string) (Info, bool) {
	sysPath := filepath.Join(sysClassHidraw, name, "device")
	vid, pid := readVendorProductID(sysPath)
	if vid == 0 && pid == 0 {
		return Info{}, false
	}
	return Info{
		Path:         filepath.Join("/dev", name),
		VendorID:     vid,
		ProductID:    pid,
		UsagePage:    readUsagePage(sysPath),
		Manufacturer: readSysfsString(sysPath, "manufacturer"),
		Product:      readSysfsString(sysPath, "product"),
		SerialNumber: readSysfsString(sysPath, "serial"),
	}, true
}

func readSysfsString(basePath, name string) string {
	if data, err := os.ReadFile(filepath.Join(basePath, name)); err == nil {
		return strings.TrimSpace(string(data))
	}
	data, err := os.ReadFile(filepath.Join(basePath, "uevent"))
	if err != nil {
		return ""
	}
	prefix := strings.ToUpper(name) + "="
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix)
		}
	}
	return ""
}

func readVendorProductID(sysPath string) (uint16, uint16) {
	data, err := os.ReadFile(filepath.Join(sysPath, "uevent"))
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		// HID_ID=0003:00002C97:00004011
		if !strings.HasPrefix(line, "HID_ID=") {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(line, "HID_ID="), ":")
		if len(parts) < 3 {
			return 0, 0
		}
		var vid, pid uint32
		if _, err := fmt.Sscanf(parts[1], "%08X", &vid); err != nil {
			return 0, 0
		}
		if _, err := fmt.Sscanf(parts[2], "%08X", &pid); err != nil {
			return 0, 0
		}
		return uint16(vid), uint16(pid)
	}
	return 0, 0
}

// readUsagePage returns the first 2-byte usage page item of the report
// descriptor, or 0.
func readUsagePage(sysPath string) uint16 {
	rdesc, err := os.ReadFile(filepath.Join(sysPath, "report_descriptor"))
	if err != nil {
		return 0
	}
	return UsagePage(rdesc)
}
