package service

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrInvalidEncoding     = errors.New("invalid text encoding")
)

// ValidateUpload checks an upload before it reaches the ingestion pipeline
// and returns its content as text.
func ValidateUpload(filename string, content []byte) (string, error) {
	if !strings.HasSuffix(filename, ".txt") {
		return "", ErrUnsupportedFileType
	}
	if !utf8.Valid(content) {
		return "", ErrInvalidEncoding
	}
	return string(content), nil
}
