// Package attachment reads attachment files for the composer. Local paths
// come from the filesystem; s3://bucket/key paths come from S3.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// OctetStream is the content type used when nothing better is known.
const OctetStream = "application/octet-stream"

// sniffBytes is how much content http.DetectContentType looks at.
const sniffBytes = 512

var (
	// ErrNotFound is returned when an attachment path does not exist.
	ErrNotFound = errors.New("attachment not found")

	// ErrNoS3 is returned for s3:// paths when no S3 source is configured.
	ErrNoS3 = errors.New("attachment: s3 source not configured")
)

// Source provides attachment bytes and metadata by path.
type Source interface {
	Exists(ctx context.Context, path string) (bool, error)
	ReadBytes(ctx context.Context, path string) ([]byte, error)
	DetectMIMEType(ctx context.Context, path string) (string, error)
	Basename(path string) string
}

// File is an attachment that has been checked to exist.
type File struct {
	Path        string
	Name        string
	ContentType string
}

// Resolve checks that path exists in src and returns its display name and
// content type. An empty name defaults to the basename of path.
func Resolve(ctx context.Context, src Source, path, name string) (File, error) {
	ok, err := src.Exists(ctx, path)
	if err != nil {
		return File{}, err
	}
	if !ok {
		return File{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	ct, err := src.DetectMIMEType(ctx, path)
	if err != nil {
		return File{}, err
	}

	if name == "" {
		name = src.Basename(path)
	}
	return File{Path: path, Name: name, ContentType: ct}, nil
}

// FileSource reads attachments from the local filesystem.
type FileSource struct{}

// Exists reports whether path is a regular file.
func (FileSource) Exists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat attachment: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// ReadBytes returns the file content.
func (FileSource) ReadBytes(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}

// DetectMIMEType uses the file extension, then the first bytes of the file.
func (FileSource) DetectMIMEType(_ context.Context, path string) (string, error) {
	if ct := byExtension(path); ct != "" {
		return ct, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open attachment: %w", err)
	}
	defer f.Close()

	return sniff(f), nil
}

// Basename returns the last element of path.
func (FileSource) Basename(path string) string {
	return filepath.Base(path)
}

func byExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return normalizeMIME(mime.TypeByExtension(ext))
}

func sniff(r io.Reader) string {
	buf := make([]byte, sniffBytes)
	n, err := io.ReadFull(r, buf)
	if n == 0 && err != nil {
		return OctetStream
	}
	return normalizeMIME(http.DetectContentType(buf[:n]))
}

// normalizeMIME drops parameters such as charset and lowercases the type.
func normalizeMIME(ct string) string {
	ct, _, _ = strings.Cut(ct, ";")
	return strings.TrimSpace(strings.ToLower(ct))
}

// Router sends s3:// paths to S3 and everything else to Local.
type Router struct {
	Local Source
	S3    Source
}

// NewRouter returns a Router over the local filesystem and, if s3 is not
// nil, an S3 source.
func NewRouter(s3 Source) *Router {
	return &Router{Local: FileSource{}, S3: s3}
}

func (r *Router) pick(path string) (Source, error) {
	if IsS3Path(path) {
		if r.S3 == nil {
			return nil, ErrNoS3
		}
		return r.S3, nil
	}
	if r.Local == nil {
		return FileSource{}, nil
	}
	return r.Local, nil
}

// Exists implements Source.
func (r *Router) Exists(ctx context.Context, path string) (bool, error) {
	src, err := r.pick(path)
	if err != nil {
		return false, err
	}
	return src.Exists(ctx, path)
}

// ReadBytes implements Source.
func (r *Router) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	src, err := r.pick(path)
	if err != nil {
		return nil, err
	}
	return src.ReadBytes(ctx, path)
}

// DetectMIMEType implements Source.
func (r *Router) DetectMIMEType(ctx context.Context, path string) (string, error) {
	src, err := r.pick(path)
	if err != nil {
		return "", err
	}
	return src.DetectMIMEType(ctx, path)
}

// Basename implements Source.
func (r *Router) Basename(path string) string {
	src, err := r.pick(path)
	if err != nil {
		return filepath.Base(path)
	}
	return src.Basename(path)
}
