// Package storage persists document payloads under an upload root.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrBlobNotFound indicates that no payload exists for the key.
	ErrBlobNotFound = errors.New("storage: blob not found")
	// ErrInvalidKey indicates an empty key or one escaping the upload root.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// BlobStore reads and writes document payloads addressed by slash-separated keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Copy(ctx context.Context, sourceKey, targetKey string) error
	Move(ctx context.Context, sourceKey, targetKey string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// BackupKey returns the key holding the copy of a payload taken before the named transformation.
func BackupKey(key, transformation string) string {
	return key + "." + transformation + ".backup"
}

func normalizeKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + trimmed)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidKey
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", ErrInvalidKey
		}
	}
	return cleaned, nil
}
