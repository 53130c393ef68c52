// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/kai/internal/settings"
	"github.com/jeranaias/kai/internal/util"
)

// DefaultBlobKey is the settings key KVBlob uses.
const DefaultBlobKey = "conversations_blob"

// Blob is a single opaque byte slot. Read returns ErrBlobNotFound when the
// slot is empty; Remove of an empty slot is not an error.
type Blob interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Remove() error
}

// =============================================================================
// FILE BLOB
// =============================================================================

// FileBlob stores the blob in one file.
type FileBlob struct {
	path string
}

// NewFileBlob returns a blob at path.
func NewFileBlob(path string) *FileBlob {
	return &FileBlob{path: path}
}

// Path returns the file location.
func (f *FileBlob) Path() string {
	return f.path
}

func (f *FileBlob) Read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return data, nil
}

// Write replaces the file atomically with owner-only permissions.
func (f *FileBlob) Write(data []byte) error {
	if err := util.AtomicWriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write conversations: %w", err)
	}
	return nil
}

func (f *FileBlob) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}
	return nil
}

// =============================================================================
// KV BLOB
// =============================================================================

// KVBlob stores the blob base64-encoded under one settings key, for targets
// without a writable filesystem.
type KVBlob struct {
	kv  settings.KV
	key string
}

// NewKVBlob returns a blob stored under key (DefaultBlobKey when empty).
func NewKVBlob(kv settings.KV, key string) *KVBlob {
	if key == "" {
		key = DefaultBlobKey
	}
	return &KVBlob{kv: kv, key: key}
}

func (b *KVBlob) Read() ([]byte, error) {
	v, found, err := b.kv.Get(b.key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrBlobNotFound
	}
	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, wrap(ErrCorrupt, err)
	}
	return data, nil
}

func (b *KVBlob) Write(data []byte) error {
	return b.kv.Set(b.key, base64.StdEncoding.EncodeToString(data))
}

func (b *KVBlob) Remove() error {
	return b.kv.Delete(b.key)
}
