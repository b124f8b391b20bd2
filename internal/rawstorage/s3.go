// Copyright 2025 James Ross
package rawstorage

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// s3ExpiryMetadataKey is the object metadata key carrying the handle's
// absolute expiry, since S3 objects
// have no native per-object expiry field that Load can cheaply consult on
// every read the way Memory's map entry does.
const s3ExpiryMetadataKey = "compute-expiry-unix"

// S3 is a RawStorage implementer backed by an S3-compatible bucket.
// Expiry metadata rides on the object as S3 metadata since buckets have no
// per-key TTL of their own.
type S3 struct {
	client s3iface.S3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3 constructs an S3-backed RawStorage against bucket, optionally
// namespacing all object keys under prefix.
func NewS3(client s3iface.S3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

func (s *S3) Capabilities() Capabilities { return Capabilities{GarbageCollectable: true} }

func (s *S3) key(handle string) string { return s.prefix + handle }

func (s *S3) Store(ctx context.Context, spec compute.StorageSpec) error {
	expiry := s.now().Add(time.Duration(spec.TTL) * time.Second)
	if spec.TTL == 0 {
		expiry = s.now().Add(100 * 365 * 24 * time.Hour)
	}
	if abs, ok := spec.Extensions[compute.ExtStorageExpiryTimestamp]; ok {
		t, err := parseTimestamp(abs)
		if err != nil {
			return compute.ErrStorageStoreFailed
		}
		if t.Before(s.now()) {
			return compute.ErrStorageStoreFailed
		}
		expiry = t
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(spec.Handle)),
		Body:   bytes.NewReader(spec.Data),
		Metadata: map[string]*string{
			s3ExpiryMetadataKey: aws.String(strconv.FormatInt(expiry.Unix(), 10)),
		},
	})
	if err != nil {
		return compute.ErrStorageStoreFailed
	}
	return nil
}

func (s *S3) head(ctx context.Context, handle string) (*s3.HeadObjectOutput, error) {
	return s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
}

func (s *S3) expired(ctx context.Context, handle string) (bool, error) {
	out, err := s.head(ctx, handle)
	if err != nil {
		if isNotFound(err) {
			return true, nil
		}
		return false, err
	}
	raw, ok := out.Metadata[s3ExpiryMetadataKey]
	if !ok || raw == nil {
		return false, nil
	}
	sec, err := strconv.ParseInt(*raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return s.now().After(time.Unix(sec, 0)), nil
}

func (s *S3) Load(ctx context.Context, handle string, extensions compute.Extensions) ([]byte, error) {
	if expired, err := s.expired(ctx, handle); err != nil {
		return nil, compute.ErrStorageLoadFailed
	} else if expired {
		return nil, compute.ErrStorageLoadFailed
	}

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil {
		return nil, compute.ErrStorageLoadFailed
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, compute.ErrStorageLoadFailed
	}
	return data, nil
}

func (s *S3) Exists(ctx context.Context, handle string, extensions compute.Extensions) (bool, error) {
	expired, err := s.expired(ctx, handle)
	if err != nil {
		return false, nil
	}
	return !expired, nil
}

func (s *S3) Persist(ctx context.Context, handle string, ttlSeconds int64, extensions compute.Extensions) error {
	out, err := s.head(ctx, handle)
	if err != nil {
		return compute.ErrStoragePersistFailed
	}
	current := s.now()
	if raw, ok := out.Metadata[s3ExpiryMetadataKey]; ok && raw != nil {
		if sec, err := strconv.ParseInt(*raw, 10, 64); err == nil {
			current = time.Unix(sec, 0)
		}
	}

	obj, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(handle))})
	if err != nil {
		return compute.ErrStoragePersistFailed
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return compute.ErrStoragePersistFailed
	}

	newExpiry := current.Add(time.Duration(ttlSeconds) * time.Second)
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
		Body:   bytes.NewReader(data),
		Metadata: map[string]*string{
			s3ExpiryMetadataKey: aws.String(strconv.FormatInt(newExpiry.Unix(), 10)),
		},
	})
	if err != nil {
		return compute.ErrStoragePersistFailed
	}
	return nil
}

func (s *S3) Clear(ctx context.Context, handle string, extensions compute.Extensions) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil && !isNotFound(err) {
		return compute.ErrStorageClearFailed
	}
	return nil
}

// GarbageCollect lists every object under the configured prefix and deletes
// those whose expiry metadata has passed, satisfying the optional
// GarbageCollectable path for deployments that don't want to rely on
// S3 bucket lifecycle rules alone.
func (s *S3) GarbageCollect(ctx context.Context, now time.Time) ([]string, error) {
	var deleted []string
	var listErr error
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			handle := (*obj.Key)[len(s.prefix):]
			expired, err := s.expired(ctx, handle)
			if err != nil {
				listErr = err
				return false
			}
			if expired {
				if err := s.Clear(ctx, handle, nil); err != nil {
					listErr = err
					return false
				}
				deleted = append(deleted, handle)
			}
		}
		return true
	})
	if err != nil {
		return deleted, err
	}
	return deleted, listErr
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}
