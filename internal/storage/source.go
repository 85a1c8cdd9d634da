// Package storage fetches encoded images from local files, HTTP(S) URLs
// and Azure Blob Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	apperrors "github.com/vouchersnap/vouchersnap/internal/errors"
)

// ErrUnsupportedScheme is returned for references no source handles.
var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// Source returns the raw bytes behind a reference.
type Source interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FileSource reads local files, accepting bare paths and file:// URLs.
type FileSource struct{}

func (FileSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := ref
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("invalid file URL: %w", err)
		}
		path = u.Path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("file not found: "+path, err)
		}
		return nil, err
	}
	return data, nil
}

// Resolver dispatches a reference to the source registered for its scheme.
// References without a scheme are local paths.
type Resolver struct {
	sources map[string]Source
}

// NewResolver creates a resolver with no sources registered.
func NewResolver() *Resolver {
	return &Resolver{sources: make(map[string]Source)}
}

// Register binds src to one or more schemes, replacing earlier bindings.
func (r *Resolver) Register(src Source, schemes ...string) *Resolver {
	for _, s := range schemes {
		r.sources[strings.ToLower(s)] = src
	}
	return r
}

// Supports reports whether a source is registered for scheme.
func (r *Resolver) Supports(scheme string) bool {
	_, ok := r.sources[strings.ToLower(scheme)]
	return ok
}

// Fetch picks a source by the scheme of ref.
func (r *Resolver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	scheme := SchemeOf(ref)
	src, ok := r.sources[scheme]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("no source for %q", scheme), ErrUnsupportedScheme)
	}
	return src.Fetch(ctx, ref)
}

// SchemeOf returns the lower-cased URL scheme of ref, or "file" for paths.
func SchemeOf(ref string) string {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok || scheme == "" {
		return "file"
	}
	return strings.ToLower(scheme)
}
