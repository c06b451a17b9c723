// Package s3test provides an in-memory S3 stand-in for tests. It honours
// the conditional headers the lake relies on (If-None-Match: * and
// If-Match) and paginates listings.
package s3test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type object struct {
	data     []byte
	etag     string
	modified time.Time
}

// Fake is a single-bucket, in-memory S3. The bucket name is not checked.
type Fake struct {
	// PageSize caps keys per ListObjectsV2 page. Zero means 1000.
	PageSize int

	mu      sync.Mutex
	objects map[string]object
	version int
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{objects: make(map[string]object)}
}

// Keys returns all stored keys in lexical order.
func (f *Fake) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Object returns the stored bytes for key.
func (f *Fake) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj.data, ok
}

func preconditionFailed(key string) error {
	return &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "precondition failed for " + key}
}

// GetObject implements storage.S3API.
func (f *Fake) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String(aws.ToString(in.Key))}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(append([]byte(nil), obj.data...))),
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

// PutObject implements storage.S3API.
func (f *Fake) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		data = b
	}

	key := aws.ToString(in.Key)
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, exists := f.objects[key]
	if aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, preconditionFailed(key)
	}
	if in.IfMatch != nil {
		if !exists {
			return nil, &types.NoSuchKey{Message: aws.String(key)}
		}
		if existing.etag != aws.ToString(in.IfMatch) {
			return nil, preconditionFailed(key)
		}
	}

	f.version++
	etag := fmt.Sprintf("%q", fmt.Sprintf("v%d", f.version))
	f.objects[key] = object{data: data, etag: etag, modified: time.Now().UTC()}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

// HeadObject implements storage.S3API.
func (f *Fake) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String(aws.ToString(in.Key))}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

// DeleteObject implements storage.S3API.
func (f *Fake) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if in.IfMatch != nil {
		if !ok {
			return nil, &types.NoSuchKey{Message: aws.String(key)}
		}
		if obj.etag != aws.ToString(in.IfMatch) {
			return nil, preconditionFailed(key)
		}
	}
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 implements storage.S3API.
func (f *Fake) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	after := aws.ToString(in.ContinuationToken)
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	var contents []types.Object
	truncated := false
	for _, k := range f.Keys() {
		if !strings.HasPrefix(k, prefix) || (after != "" && k <= after) {
			continue
		}
		if len(contents) == pageSize {
			truncated = true
			break
		}
		contents = append(contents, types.Object{Key: aws.String(k)})
	}

	out := &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(truncated),
		KeyCount:    aws.Int32(int32(len(contents))),
	}
	if truncated {
		out.NextContinuationToken = contents[len(contents)-1].Key
	}
	return out, nil
}
