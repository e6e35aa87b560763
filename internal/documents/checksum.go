package documents

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/google/uuid"
)

// Checksum returns the SHA-256 hex digest of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// IDProvider issues identifiers for version groups.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// VersionFileKey names the blob of a version: {user}/{group}_v{n}{ext}.
func VersionFileKey(userID, groupID string, version int, ext string) string {
	return path.Join(userID, fmt.Sprintf("%s_v%d%s", groupID, version, ext))
}

// GroupedFileKey names a blob in the per-group layout: {user}/{group}/v{n}{ext}.
func GroupedFileKey(userID, groupID string, version int, ext string) string {
	return path.Join(userID, groupID, fmt.Sprintf("v%d%s", version, ext))
}
