package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

// blobStore is the part of the storage contract the publisher needs.
type blobStore interface {
	Upload(ctx context.Context, path string, src io.Reader, size int64, contentType string) error
	URL(ctx context.Context, path string) (string, error)
}

// Publisher uploads finished artifacts and resolves their retrieval URLs.
type Publisher struct {
	store    blobStore
	strategy retry.Strategy
}

// New creates a Publisher.
func New(store blobStore, strategy retry.Strategy) *Publisher {
	return &Publisher{store: store, strategy: strategy}
}

// Path returns the storage key of an artifact: <owner>/<job>/<name>.
func Path(ownerID, jobID, name string) string {
	return path.Join(ownerID, jobID, name)
}

// ContentType sniffs data, falling back to the extension of name for
// containers the detector reports as generic.
func ContentType(data []byte, name string) string {
	mt := mimetype.Detect(data)
	if mt.Is("application/octet-stream") || mt.Is("text/plain") {
		if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
			return byExt
		}
	}
	return mt.String()
}

// Publish writes data to key, overwriting any previous object, and returns
// its retrieval URL. Any failure is a *model.PublishError.
func (p *Publisher) Publish(ctx context.Context, data []byte, key string) (string, error) {
	contentType := ContentType(data, key)

	err := retry.Do(func() error {
		return p.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	}, p.strategy)
	if err != nil {
		return "", &model.PublishError{Path: key, Err: err}
	}

	url, err := p.store.URL(ctx, key)
	if err != nil {
		return "", &model.PublishError{Path: key, Err: fmt.Errorf("failed to resolve url: %w", err)}
	}

	zlog.Logger.Info().
		Str("path", key).
		Str("content_type", contentType).
		Msg("artifact published")

	return url, nil
}
