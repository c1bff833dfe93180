package publisher

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/video-transcoder/internal/model"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type memStore struct {
	objects  map[string][]byte
	types    map[string]string
	failures int
	urlErr   error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Upload(_ context.Context, path string, src io.Reader, size int64, contentType string) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("connection reset")
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("short body")
	}
	m.objects[path] = data
	m.types[path] = contentType
	return nil
}

func (m *memStore) URL(_ context.Context, path string) (string, error) {
	if m.urlErr != nil {
		return "", m.urlErr
	}
	return "https://cdn.example.com/" + path, nil
}

var strategy = retry.Strategy{Attempts: 3, Delay: time.Millisecond, Backoff: 1}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestPath(t *testing.T) {
	assert.Equal(t, "user-1/job-9/clip_720p.mp4", Path("user-1", "job-9", "clip_720p.mp4"))
}

func TestPublish_IsOverwriteSafe(t *testing.T) {
	store := newMemStore()
	p := New(store, strategy)
	key := Path("u", "j", "clip_thumbnail.png")

	url1, err := p.Publish(context.Background(), pngData(t), key)
	require.NoError(t, err)
	url2, err := p.Publish(context.Background(), pngData(t), key)
	require.NoError(t, err)

	assert.Equal(t, url1, url2)
	assert.Equal(t, "https://cdn.example.com/u/j/clip_thumbnail.png", url1)
	assert.Len(t, store.objects, 1)
	assert.Equal(t, "image/png", store.types[key])
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	store.failures = 1

	_, err := New(store, strategy).Publish(context.Background(), []byte("x"), "u/j/a.mp4")
	require.NoError(t, err)
	assert.Contains(t, store.objects, "u/j/a.mp4")
}

func TestPublish_Failure(t *testing.T) {
	store := newMemStore()
	store.failures = 100

	_, err := New(store, strategy).Publish(context.Background(), []byte("x"), "u/j/a.mp4")

	var pe *model.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "u/j/a.mp4", pe.Path)
	assert.Empty(t, store.objects)
}

func TestPublish_URLFailure(t *testing.T) {
	store := newMemStore()
	store.urlErr = errors.New("presign failed")

	_, err := New(store, strategy).Publish(context.Background(), []byte("x"), "u/j/a.mp4")

	var pe *model.PublishError
	assert.ErrorAs(t, err, &pe)
}
