// Package storage archives accepted images in a blob store. Backends live in
// the gcs, local and memory subpackages; the postgres subpackage persists the
// activity log and exported notes.
package storage

import (
	"bytes"
	"context"
	"mime"
	"path"

	"github.com/cockroachdb/errors"

	"github.com/SF-300/vigilant-disco/internal/cards"
)

// BlobStore writes one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ImagePath returns the content-addressed object path for img:
// images/<first two digest chars>/<digest><ext>.
func ImagePath(img cards.Image) (string, error) {
	if len(img.Digest) < 2 {
		return "", errors.Newf("image %s has no digest", img.ID)
	}
	return path.Join("images", img.Digest[:2], img.Digest+extension(img.MIMEType)), nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// Archiver stores images in a BlobStore under their content address.
type Archiver struct {
	store BlobStore
}

// NewArchiver wraps store. A nil store yields an Archiver that skips writes.
func NewArchiver(store BlobStore) *Archiver {
	return &Archiver{store: store}
}

// Enabled reports whether images are written anywhere.
func (a *Archiver) Enabled() bool {
	return a != nil && a.store != nil
}

// ArchiveImage writes img and returns its URI, or "" when disabled.
func (a *Archiver) ArchiveImage(ctx context.Context, img cards.Image) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	p, err := ImagePath(img)
	if err != nil {
		return "", err
	}
	uri, err := a.store.PutObject(ctx, p, img.MIMEType, bytes.Clone(img.Data))
	if err != nil {
		return "", errors.Wrapf(err, "archive image %s", img.ID)
	}
	return uri, nil
}
