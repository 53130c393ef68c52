// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the at-rest format of kai's conversation list.
//
// All conversations are serialised together into one versioned JSON
// envelope, scrambled with a ChaCha20 keystream and written to a single
// blob (a file on desktop, a settings key on the web target).
//
// # Key Types
//
//   - Envelope: the versioned JSON document
//   - Codec: envelope <-> scrambled bytes
//   - Blob: where the bytes live (FileBlob, KVBlob)
//
// # Usage
//
//	codec, err := storage.NewCodec(key)
//	data, err := codec.Encode(conversations)
//	err = storage.NewFileBlob(path).Write(data)
//
// The cipher is obfuscation only. There is no authentication tag, so a
// tampered blob decodes to garbage and is rejected by the JSON decoder.
package storage
