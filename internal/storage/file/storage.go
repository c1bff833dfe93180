package file

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/video-transcoder/internal/storage"
)

const defaultPresignExpiry = 24 * time.Hour

// Options configures the MinIO backend.
type Options struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string        // when set, URL returns PublicBaseURL/<key>
	PresignExpiry time.Duration // lifetime of presigned GET URLs otherwise
}

// Storage provides an S3-compatible storage backend using MinIO.
type Storage struct {
	client        *minio.Client
	bucketName    string
	publicBaseURL string
	presignExpiry time.Duration
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, opts Options) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	expiry := opts.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}

	return &Storage{
		client:        client,
		bucketName:    opts.Bucket,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		presignExpiry: expiry,
	}, nil
}

// Upload writes src under path, replacing any existing object.
func (s *Storage) Upload(ctx context.Context, path string, src io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucketName, path, src, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}

	return nil
}

// Download returns a reader for the object at path.
func (s *Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", path, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return obj, nil
}

// Delete removes every path in one batch and reports per-path results.
// A missing key counts as deleted.
func (s *Storage) Delete(ctx context.Context, paths []string) []storage.DeleteResult {
	objects := make(chan minio.ObjectInfo, len(paths))
	for _, p := range paths {
		objects <- minio.ObjectInfo{Key: p}
	}
	close(objects)

	failed := make(map[string]error)
	for rErr := range s.client.RemoveObjects(ctx, s.bucketName, objects, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && !isNotFound(rErr.Err) {
			failed[rErr.ObjectName] = rErr.Err
		}
	}

	results := make([]storage.DeleteResult, len(paths))
	for i, p := range paths {
		results[i] = storage.DeleteResult{Path: p, Err: failed[p]}
	}
	return results
}

// URL returns a retrieval URL for path.
func (s *Storage) URL(ctx context.Context, path string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + path, nil
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucketName, path, s.presignExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign url: %w", err)
	}

	return u.String(), nil
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
