package download

import (
	"errors"
	"fmt"
)

// Fixed-condition failures.
var (
	// ErrMissingContentLength is returned when the response declares no length.
	ErrMissingContentLength = errors.New("missing content-length header")
	// ErrMissingFilename is returned when no filename was supplied and none
	// could be derived from content-disposition.
	ErrMissingFilename = errors.New("remote filename not provided")
	// ErrInvalidFile is returned when the written file fails the
	// symlink/hard-link integrity check. The file has been removed.
	ErrInvalidFile = errors.New("invalid downloaded file")
)

// ErrInvalidPath indicates a target outside the staging root or containing
// traversal segments.
type ErrInvalidPath struct {
	Path string
}

func (e ErrInvalidPath) Error() string {
	return "staging path not permitted: " + e.Path
}

// SizeError indicates the declared or actual size exceeded the limit.
type SizeError struct {
	Size  int64
	Limit int64
}

func (e SizeError) Error() string {
	return fmt.Sprintf("file size %d exceeds limit of %d bytes", e.Size, e.Limit)
}

// ContentTypeError indicates a response content type outside the allow-list.
type ContentTypeError struct {
	ContentType string
}

func (e ContentTypeError) Error() string {
	return fmt.Sprintf("invalid content type %q", e.ContentType)
}

// StatusError indicates a non-success, non-redirect response status.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("download failed with status %d", e.Code)
}
