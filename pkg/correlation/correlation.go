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

// Package correlation tags every logical device operation with an ID so that
// the frames one signature produces can be followed through the logs of the
// key adapter, the proxy and the transport binding.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// OperationIDKey is the context key for storing operation IDs
	OperationIDKey contextKey = "operation-id"

	// LogKey is the attribute name operation IDs are logged under
	LogKey = "op_id"

	// BridgeHeader carries the operation ID on bridge HTTP upgrades
	BridgeHeader = "X-Operation-ID"
)

// WithOperationID adds an operation ID to the context.
func WithOperationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, OperationIDKey, id)
}

// OperationID retrieves the operation ID from context.
// Returns an empty string if none is set.
func OperationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(OperationIDKey).(string); ok {
		return id
	}
	return ""
}

// NewID generates a new UUID v4 operation ID.
func NewID() string {
	return uuid.New().String()
}

// Ensure returns ctx unchanged when it already carries an operation ID,
// otherwise a child context with a fresh one. The ID is returned as well.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := OperationID(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithOperationID(ctx, id), id
}
