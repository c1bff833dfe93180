// Package s3 is the AWS S3 storage driver. It serves the same contract as
// the MinIO driver and is selected with storage.driver = "s3".
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/aliskhannn/video-transcoder/internal/storage"
)

// deleteBatch is the DeleteObjects limit per request.
const deleteBatch = 1000

// Options configures the S3 backend.
type Options struct {
	Region        string
	Endpoint      string // optional, for S3-compatible services
	AccessKey     string // empty means the default credential chain
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	PresignExpiry time.Duration
}

// Storage stores artifacts in an S3 bucket.
type Storage struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	bucketName    string
	publicBaseURL string
	presignExpiry time.Duration
}

// NewStorage builds an S3 client from the default credential chain, or
// from the static keys in opts when they are set.
func NewStorage(ctx context.Context, opts Options) (*Storage, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	expiry := opts.PresignExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	return &Storage{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		bucketName:    opts.Bucket,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		presignExpiry: expiry,
	}, nil
}

// Upload writes src to path, replacing any existing object.
func (s *Storage) Upload(ctx context.Context, path string, src io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(path),
		Body:        src,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 upload %s: %w", path, err)
	}
	return nil
}

// Download opens the object at path. A missing key yields
// storage.ErrObjectNotFound.
func (s *Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", path, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("s3 download %s: %w", path, err)
	}
	return resp.Body, nil
}

// Delete removes paths and reports one result per path. Missing keys
// count as deleted.
func (s *Storage) Delete(ctx context.Context, paths []string) []storage.DeleteResult {
	failed := make(map[string]error)

	for start := 0; start < len(paths); start += deleteBatch {
		end := min(start+deleteBatch, len(paths))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, p := range paths[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(p)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucketName),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			for _, p := range paths[start:end] {
				failed[p] = err
			}
			continue
		}
		for _, e := range out.Errors {
			if aws.ToString(e.Code) == "NoSuchKey" {
				continue
			}
			failed[aws.ToString(e.Key)] = fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}

	results := make([]storage.DeleteResult, len(paths))
	for i, p := range paths {
		results[i] = storage.DeleteResult{Path: p, Err: failed[p]}
	}
	return results
}

// URL returns the public URL of path, or a presigned GET URL when no
// public base is configured.
func (s *Storage) URL(ctx context.Context, path string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + path, nil
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", path, err)
	}
	return req.URL, nil
}
