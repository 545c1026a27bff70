// Package download fetches remote resources into a constrained local
// staging directory. Safety invariants are enforced throughout the
// transfer: the target path is validated before any network call, the
// size limit is re-checked as bytes arrive, and the finished file is
// integrity-checked against link tricks. A partially written file never
// survives a failure.
package download

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxFilenameLength bounds derived filenames.
const DefaultMaxFilenameLength = 255

// Config wires a Downloader.
type Config struct {
	// StagingRoot is the permitted local root. Every target directory must
	// resolve inside it.
	StagingRoot string
	// SizeLimit is the maximum downloadable size in bytes.
	SizeLimit int64
	// AllowedContentTypes is the media-type allow-list. A response whose
	// content type is not in it is rejected.
	AllowedContentTypes []string
	// MaxFilenameLength caps derived filenames (default 255).
	MaxFilenameLength int
	// Client defaults to http.DefaultClient. Transport timeouts bound a
	// stalled transfer; the downloader adds no timeout of its own.
	Client *http.Client
}

// Downloader streams remote files into the staging root.
type Downloader struct {
	root       string
	sizeLimit  int64
	allowed    map[string]struct{}
	maxNameLen int
	client     *http.Client
}

// New validates the configuration and builds a Downloader.
func New(cfg Config) (*Downloader, error) {
	if cfg.StagingRoot == "" {
		return nil, fmt.Errorf("download: staging root is required")
	}
	if cfg.SizeLimit <= 0 {
		return nil, fmt.Errorf("download: size limit is required")
	}
	if len(cfg.AllowedContentTypes) == 0 {
		return nil, fmt.Errorf("download: content-type allow-list is required")
	}
	root, err := filepath.Abs(cfg.StagingRoot)
	if err != nil {
		return nil, fmt.Errorf("download: resolve staging root: %w", err)
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed[strings.ToLower(ct)] = struct{}{}
	}
	maxNameLen := cfg.MaxFilenameLength
	if maxNameLen <= 0 {
		maxNameLen = DefaultMaxFilenameLength
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		root:       root,
		sizeLimit:  cfg.SizeLimit,
		allowed:    allowed,
		maxNameLen: maxNameLen,
		client:     client,
	}, nil
}

// Fetch downloads rawURL into dir, which must resolve inside the staging
// root. When filename is empty it is derived from the response's
// content-disposition header. Returns the absolute path of the written
// file; on any failure the partial file is removed.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dir, filename string) (string, error) {
	// Path checks run before any network traffic.
	absDir, err := d.resolveDir(dir)
	if err != nil {
		return "", err
	}
	if filename != "" {
		if err := validateFilename(filename); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	// Redirects are consumed by the client; only the final response is
	// validated and written, so redirect bodies never reach the file.
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", StatusError{Code: resp.StatusCode}
	}

	if filename == "" {
		filename, err = d.deriveFilename(resp)
		if err != nil {
			return "", err
		}
	}

	if err := d.validateResponse(resp); err != nil {
		return "", err
	}

	target := filepath.Join(absDir, filename)
	if err := d.contained(target); err != nil {
		return "", err
	}
	if err := d.writeBody(target, resp.Body); err != nil {
		return "", err
	}
	if err := verifyIntegrity(target); err != nil {
		return "", err
	}
	return target, nil
}

// =============================================================================
// PATH RESOLUTION
// =============================================================================

func (d *Downloader) resolveDir(dir string) (string, error) {
	if dir == "" {
		dir = d.root
	}
	if containsTraversal(dir) {
		return "", ErrInvalidPath{Path: dir}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := d.contained(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// contained rejects paths outside the staging root.
func (d *Downloader) contained(path string) error {
	rel, err := filepath.Rel(d.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrInvalidPath{Path: path}
	}
	return nil
}

func containsTraversal(path string) bool {
	for _, seg := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func validateFilename(name string) error {
	if name == "" || name != filepath.Base(name) {
		return ErrInvalidPath{Path: name}
	}
	return nil
}

// deriveFilename extracts the remote filename from content-disposition,
// strips any directory components, and truncates the stem to the length
// cap while keeping the extension.
func (d *Downloader) deriveFilename(resp *http.Response) (string, error) {
	disposition := resp.Header.Get("Content-Disposition")
	if disposition == "" {
		return "", ErrMissingFilename
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return "", ErrMissingFilename
	}
	name := params["filename"]
	if name == "" {
		return "", ErrMissingFilename
	}
	// Forward slashes are stripped by Base; backslash separators from
	// other platforms are stripped by hand.
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", ErrMissingFilename
	}
	return truncateFilename(name, d.maxNameLen), nil
}

func truncateFilename(name string, max int) string {
	if len(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= max {
		return name[:max]
	}
	stem := name[:len(name)-len(ext)]
	return stem[:max-len(ext)] + ext
}

// =============================================================================
// RESPONSE VALIDATION
// =============================================================================

// validateResponse checks content type and declared length once, against
// the final (post-redirect) response.
func (d *Downloader) validateResponse(resp *http.Response) error {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	if _, ok := d.allowed[strings.ToLower(mediaType)]; !ok {
		return ContentTypeError{ContentType: mediaType}
	}
	if resp.ContentLength < 0 {
		return ErrMissingContentLength
	}
	if resp.ContentLength > d.sizeLimit {
		return SizeError{Size: resp.ContentLength, Limit: d.sizeLimit}
	}
	return nil
}

// =============================================================================
// STREAMING WRITE
// =============================================================================

// writeBody streams the body to the target, re-checking the cumulative
// size after every chunk. The file is removed on failure.
func (d *Downloader) writeBody(target string, body io.Reader) (err error) {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", target, cerr)
		}
		if err != nil {
			os.Remove(target)
		}
	}()

	if _, err = io.Copy(&limitedWriter{w: f, limit: d.sizeLimit}, body); err != nil {
		return err
	}
	return nil
}

// limitedWriter fails the copy once cumulative bytes exceed the limit. A
// response lying about its declared length is caught here mid-stream.
type limitedWriter struct {
	w       io.Writer
	written int64
	limit   int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	if lw.written > lw.limit {
		return n, SizeError{Size: lw.written, Limit: lw.limit}
	}
	return n, nil
}

// =============================================================================
// INTEGRITY
// =============================================================================

// verifyIntegrity rejects a written file that is a symlink or has more
// than one hard link, removing it before surfacing the error.
func verifyIntegrity(target string) error {
	fi, err := os.Lstat(target)
	if err != nil {
		os.Remove(target)
		return fmt.Errorf("stat %s: %w", target, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 || hardLinks(fi) > 1 {
		os.Remove(target)
		return ErrInvalidFile
	}
	return nil
}
