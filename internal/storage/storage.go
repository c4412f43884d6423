// Package storage manages per-project object storage buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrDisabled is returned by operations that need a real object store.
var ErrDisabled = errors.New("object storage is disabled")

// ObjectStorage is the object-store surface used by the project service.
type ObjectStorage interface {
	CreateBucket(ctx context.Context, bucket string) error
	DeleteBucket(ctx context.Context, bucket string) error
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
	Delete(ctx context.Context, bucket, key string) error
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Region() string
}

// BucketName derives a bucket name unique to a user and creation instant.
// S3 bucket names are lowercase and at most 63 characters.
func BucketName(prefix string, userID uint, at time.Time) string {
	name := fmt.Sprintf("%s-%d-%d", strings.ToLower(prefix), userID, at.UnixMilli())
	if len(name) > 63 {
		name = name[len(name)-63:]
		name = strings.TrimLeft(name, "-")
	}
	return name
}

// Noop accepts bucket lifecycle calls and refuses uploads. It is used when
// storage is not configured so projects can still be created and deleted.
type Noop struct{}

func (Noop) CreateBucket(context.Context, string) error { return nil }
func (Noop) DeleteBucket(context.Context, string) error { return nil }

func (Noop) Upload(context.Context, string, string, io.Reader) error { return ErrDisabled }
func (Noop) Delete(context.Context, string, string) error            { return nil }

func (Noop) PresignPut(context.Context, string, string, time.Duration) (string, error) {
	return "", ErrDisabled
}

func (Noop) Region() string { return "" }
