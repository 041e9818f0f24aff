package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by store reads for missing objects.
var ErrNotFound = errors.New("object not found")

// ByteRange selects an inclusive byte span of a stored object.
type ByteRange struct {
	Start int64
	End   int64
}

func (r *ByteRange) headerValue() *string {
	if r == nil {
		return nil
	}
	v := fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
	return &v
}

// StoreObject describes one listed object.
type StoreObject struct {
	Key  string
	Size int64
}

// RemoteStore is the narrow object-store surface the data plane consumes.
type RemoteStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string, rng *ByteRange) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]StoreObject, error)
	NewAppender(ctx context.Context, key string) (Appender, error)
}

// Appender accumulates one partition file. Complete seals the object; Abort
// discards everything appended so far.
type Appender interface {
	Append(ctx context.Context, data []byte) error
	Complete(ctx context.Context) error
	Abort(ctx context.Context) error
}

// S3Config carries the settings needed to build an S3-backed store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
	KMSKeyARN       string
}

// IndexKey names the chunk-index side file of a partition file.
func IndexKey(location string) string {
	return location + ".index"
}

// SuccessKey names the finalize marker of a partition file.
func SuccessKey(location string) string {
	return location + ".success"
}
