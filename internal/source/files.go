package source

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/SF-300/vigilant-disco/internal/cards"
	"github.com/SF-300/vigilant-disco/internal/pipeline"
)

// ErrUnsupported marks files whose extension is not a supported image type.
var ErrUnsupported = errors.New("unsupported image type")

// SubmitFiles reads each path and submits it in order. It stops at the first
// unreadable, unsupported or rejected file.
func SubmitFiles(ctx context.Context, submit pipeline.SubmitFunc, paths ...string) ([]cards.Image, error) {
	images := make([]cards.Image, 0, len(paths))
	for _, path := range paths {
		mimeType := MIMEType(path)
		if mimeType == "" {
			return images, errors.Mark(errors.Newf("%s: unsupported image type", path), ErrUnsupported)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return images, errors.Wrapf(err, "read %s", path)
		}
		img, err := submit(ctx, data, mimeType)
		if err != nil {
			return images, errors.Wrapf(err, "submit %s", path)
		}
		images = append(images, img)
	}
	return images, nil
}
