package universe

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// ObjectOpener opens objects addressed by s3:// URIs
type ObjectOpener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// SourceOpener routes snapshot URIs: s3:// goes to object storage, anything
// else is read from the local filesystem.
type SourceOpener struct {
	objects ObjectOpener
}

// NewSourceOpener creates a source opener. objects may be nil when object storage is not configured.
func NewSourceOpener(objects ObjectOpener) *SourceOpener {
	return &SourceOpener{objects: objects}
}

// Open returns a reader over the snapshot at uri
func (o *SourceOpener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty source URI")
	}

	if strings.HasPrefix(uri, "s3://") {
		if o.objects == nil {
			return nil, fmt.Errorf("object storage is not configured for %s", uri)
		}
		return o.objects.Open(ctx, uri)
	}

	f, err := os.Open(strings.TrimPrefix(uri, "file://"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	return f, nil
}
