package storage

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMimeType sniffs the content and returns the media type without parameters.
func DetectMimeType(content []byte) string {
	detected := mimetype.Detect(content)
	return stripParameters(detected.String())
}

// Extension returns the lower-cased filename extension, falling back to the sniffed one.
func Extension(filename string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if ext != "" {
		return ext
	}
	return mimetype.Detect(content).Extension()
}

// SameMimeType compares two media types ignoring parameters and case.
func SameMimeType(left, right string) bool {
	return strings.EqualFold(stripParameters(left), stripParameters(right))
}

func stripParameters(mediaType string) string {
	if index := strings.Index(mediaType, ";"); index >= 0 {
		mediaType = mediaType[:index]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
