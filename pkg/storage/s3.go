package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/eunmann/singerlake/pkg/lakepath"
)

// S3API is the subset of the S3 client used by the lake.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures the S3 client.
type S3Options struct {
	Bucket string
	// Region overrides the region from the default AWS config chain.
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint  string
	PathStyle bool
}

// NewS3Client creates an S3 client using the default AWS configuration
// chain plus the overrides in opts.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// S3 stores files as objects in one bucket. A GenericPath maps to the key
// formed by its slash-joined segments; the relative flag is ignored.
type S3 struct {
	client S3API
	bucket string
}

// NewS3 creates an S3 backend over client.
func NewS3(client S3API, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// Client returns the underlying S3 client.
func (b *S3) Client() S3API { return b.client }

// Bucket returns the bucket name.
func (b *S3) Bucket() string { return b.bucket }

// Key maps a GenericPath to an object key.
func (b *S3) Key(p lakepath.GenericPath) string {
	return strings.Join(p.Segments(), "/")
}

func (b *S3) uri(key string) string {
	return "s3://" + b.bucket + "/" + key
}

// ReadFile implements Backend.
func (b *S3) ReadFile(ctx context.Context, p lakepath.GenericPath) ([]byte, error) {
	key := b.Key(p)
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("get object %s: %w", b.uri(key), ErrNotExist)
		}
		return nil, fmt.Errorf("get object %s: %w", b.uri(key), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", b.uri(key), err)
	}
	return data, nil
}

// WriteFile implements Backend. A single PutObject is atomic.
func (b *S3) WriteFile(ctx context.Context, p lakepath.GenericPath, data []byte) error {
	key := b.Key(p)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", b.uri(key), err)
	}
	return nil
}

// PlaceFile implements Backend using a conditional put that fails when the
// key already exists.
func (b *S3) PlaceFile(ctx context.Context, src string, dst lakepath.GenericPath) error {
	key := b.Key(dst)
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", src, err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		IfNoneMatch:   aws.String("*"),
	})
	f.Close()
	if err != nil {
		if IsPreconditionFailed(err) {
			return fmt.Errorf("place %s: %w", b.uri(key), ErrExist)
		}
		return fmt.Errorf("place %s: %w", b.uri(key), err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove placed source %s: %w", src, err)
	}
	return nil
}

// MkdirAll implements Backend. Object stores have no directories.
func (b *S3) MkdirAll(context.Context, lakepath.GenericPath) error { return nil }

// List implements Backend.
func (b *S3) List(ctx context.Context, p lakepath.GenericPath) ([]string, error) {
	prefix := b.Key(p)
	if prefix != "" {
		prefix += "/"
	}

	var out []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", b.uri(prefix), err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			out = append(out, rel)
		}
	}
	return out, nil
}

// Exists implements Backend.
func (b *S3) Exists(ctx context.Context, p lakepath.GenericPath) (bool, error) {
	key := b.Key(p)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", b.uri(key), err)
}

// IsNotFound reports whether err is an S3 missing-key error.
func IsNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// IsPreconditionFailed reports whether err is a failed conditional write:
// If-None-Match found an object, or If-Match saw a different ETag.
func IsPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
