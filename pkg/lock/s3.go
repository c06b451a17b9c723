package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/eunmann/singerlake/internal/logctx"
	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/storage"
)

// DefaultTTL is how long an S3 lease stays valid without a refresh.
const DefaultTTL = 2 * time.Minute

// S3 locks scopes with lease objects next to each manifest. A lease is
// created with If-None-Match: *, refreshed and deleted with If-Match on its
// ETag, and may be broken by any contender once it has expired.
type S3 struct {
	backend  *storage.S3
	resolver *lakepath.Resolver
	ttl      time.Duration
	owner    string
	now      func() time.Time
}

// NewS3 creates a lease Locker for a lake on backend.
func NewS3(backend *storage.S3, resolver *lakepath.Resolver, ttl time.Duration) *S3 {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &S3{
		backend:  backend,
		resolver: resolver,
		ttl:      ttl,
		owner:    uuid.NewString(),
		now:      time.Now,
	}
}

// leaseBody is the JSON content of a lease object.
type leaseBody struct {
	Owner      string    `json:"owner"`
	Scope      string    `json:"scope"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LeaseKey returns the object key of the lease for scope.
func (l *S3) LeaseKey(scope Scope) string {
	return l.backend.Key(scope.ManifestPath(l.resolver)) + LockSuffix
}

func (l *S3) body(scope Scope, acquired time.Time) ([]byte, error) {
	return json.Marshal(leaseBody{
		Owner:      l.owner,
		Scope:      scope.String(),
		AcquiredAt: acquired.UTC(),
		ExpiresAt:  l.now().Add(l.ttl).UTC(),
	})
}

// Acquire implements Locker.
func (l *S3) Acquire(ctx context.Context, scope Scope, timeout time.Duration) (*Guard, error) {
	key := l.LeaseKey(scope)
	return poll(ctx, scope, timeout, func() (lease, bool, error) {
		acquired := l.now()
		data, err := l.body(scope, acquired)
		if err != nil {
			return nil, false, err
		}
		out, err := l.backend.Client().PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(l.backend.Bucket()),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			IfNoneMatch: aws.String("*"),
		})
		if err == nil {
			return &s3Lease{locker: l, scope: scope, key: key, etag: aws.ToString(out.ETag), acquired: acquired}, true, nil
		}
		if !storage.IsPreconditionFailed(err) {
			return nil, false, fmt.Errorf("put lease %s: %w", key, err)
		}
		if err := l.breakExpired(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	})
}

// breakExpired deletes the lease at key if it has expired. Losing the race
// to another contender is not an error.
func (l *S3) breakExpired(ctx context.Context, key string) error {
	resp, err := l.backend.Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.backend.Bucket()),
		Key:    aws.String(key),
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("get lease %s: %w", key, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read lease %s: %w", key, err)
	}

	var body leaseBody
	if err := json.Unmarshal(data, &body); err == nil && l.now().Before(body.ExpiresAt) {
		return nil
	}

	_, err = l.backend.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(l.backend.Bucket()),
		Key:     aws.String(key),
		IfMatch: resp.ETag,
	})
	if err != nil && !storage.IsPreconditionFailed(err) && !storage.IsNotFound(err) {
		return fmt.Errorf("break lease %s: %w", key, err)
	}
	if err == nil {
		log := logctx.FromContext(ctx)
		log.Warn().
			Str("lease", key).
			Str("owner", body.Owner).
			Time("expired_at", body.ExpiresAt).
			Msg("broke expired lock lease")
	}
	return nil
}

type s3Lease struct {
	locker   *S3
	scope    Scope
	key      string
	etag     string
	acquired time.Time
}

func (s *s3Lease) refresh(ctx context.Context) error {
	data, err := s.locker.body(s.scope, s.acquired)
	if err != nil {
		return err
	}
	out, err := s.locker.backend.Client().PutObject(ctx, &s3.PutObjectInput{
		Bucket:  aws.String(s.locker.backend.Bucket()),
		Key:     aws.String(s.key),
		Body:    bytes.NewReader(data),
		IfMatch: aws.String(s.etag),
	})
	if err != nil {
		if storage.IsPreconditionFailed(err) || storage.IsNotFound(err) {
			return ErrLeaseLost
		}
		return fmt.Errorf("put lease %s: %w", s.key, err)
	}
	s.etag = aws.ToString(out.ETag)
	return nil
}

func (s *s3Lease) release() error {
	// Release runs after the caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.locker.backend.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(s.locker.backend.Bucket()),
		Key:     aws.String(s.key),
		IfMatch: aws.String(s.etag),
	})
	if err == nil {
		return nil
	}
	if storage.IsPreconditionFailed(err) || storage.IsNotFound(err) {
		return ErrLeaseLost
	}
	return fmt.Errorf("delete lease %s: %w", s.key, err)
}
