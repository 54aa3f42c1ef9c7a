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

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-ledgerkey/pkg/correlation"
	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

// Serve answers requests read from r with exchanges on device, writing
// responses to w, until r reaches EOF or ctx is done. Requests are
// handled one at a time in arrival order.
func Serve(ctx context.Context, r io.Reader, w io.Writer, device *transport.Device, log *logging.Logger) error {
	if log == nil {
		log = logging.Discard()
	}
	dec := cbor.NewDecoder(r)
	enc := cbor.NewEncoder(w)

	type incoming struct {
		req Request
		err error
	}
	reqs := make(chan incoming)
	go func() {
		defer close(reqs)
		for {
			var req Request
			err := dec.Decode(&req)
			select {
			case reqs <- incoming{req: req, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var in incoming
		var ok bool
		select {
		case in, ok = <-reqs:
			if !ok {
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		if in.err != nil {
			if errors.Is(in.err, io.EOF) {
				return nil
			}
			return fmt.Errorf("ipc: read request: %w", in.err)
		}

		resp := handle(ctx, device, in.req, log)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("ipc: write response: %w", err)
		}
	}
}

func handle(ctx context.Context, device *transport.Device, req Request, log *logging.Logger) Response {
	ctx, opID := correlation.Ensure(ctx)
	resp := Response{ID: req.ID}

	switch req.Op {
	case OpPing:
		return resp
	case OpExchange:
		// Each frame takes its own session. A stdio server has exactly one
		// peer and requests are handled in order, so frames of a multi-frame
		// sequence cannot interleave with another client's.
		data, err := device.Exchange(ctx, req.APDU)
		if err != nil {
			log.Warn("exchange failed", correlation.LogKey, opID, "id", req.ID, "error", err)
			resp.Error = err.Error()
			if reason, ok := transport.ReasonOf(err); ok {
				resp.Reason = string(reason)
			}
			return resp
		}
		resp.Data = data
		return resp
	default:
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
		return resp
	}
}
