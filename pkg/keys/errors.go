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

package keys

import "errors"

var (
	// ErrUnknownKeyType is returned when a key type label is not recognized.
	ErrUnknownKeyType = errors.New("keys: unknown key type")

	// ErrUnknownScheme is returned when a signature scheme label is not recognized.
	ErrUnknownScheme = errors.New("keys: unknown signature scheme")

	// ErrNoDeserializer is returned when no deserializer is registered for
	// the type tag of a serialized external key.
	ErrNoDeserializer = errors.New("keys: no deserializer registered for key type")

	// ErrDeserializerExists is returned when a second deserializer is
	// registered for the same type tag.
	ErrDeserializerExists = errors.New("keys: deserializer already registered")

	// ErrInvalidPublicKey is returned when public key bytes cannot be decoded.
	ErrInvalidPublicKey = errors.New("keys: invalid public key")

	// ErrNotExternal is returned when a serialized key carries no external
	// section and therefore cannot be handed to a registered deserializer.
	ErrNotExternal = errors.New("keys: serialized key is not an external key")
)
