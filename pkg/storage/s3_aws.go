package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3MinPartSize is the smallest part S3 accepts in a multipart upload except
// for the final one. Appends are staged until a full part accrues.
const s3MinPartSize = 5 << 20

type awsS3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type awsS3Store struct {
	bucket string
	api    awsS3API
	kmsKey string
}

// NewS3Store returns an AWS-backed remote store.
func NewS3Store(ctx context.Context, cfg S3Config) (RemoteStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3 region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	if cfg.Endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           cfg.Endpoint,
					PartitionID:   "aws",
					SigningRegion: cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(customResolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return newS3StoreWithAPI(cfg.Bucket, cfg.KMSKeyARN, client), nil
}

func newS3StoreWithAPI(bucket, kmsKey string, api awsS3API) RemoteStore {
	return &awsS3Store{
		bucket: bucket,
		api:    api,
		kmsKey: kmsKey,
	}
}

func (c *awsS3Store) Put(ctx context.Context, key string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if c.kmsKey != "" {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(c.kmsKey)
	}
	_, err := c.api.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (c *awsS3Store) Get(ctx context.Context, key string, rng *ByteRange) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if header := rng.headerValue(); header != nil {
		input.Range = header
	}
	resp, err := c.api.GetObject(ctx, input)
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("get object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", key, err)
	}
	return data, nil
}

func (c *awsS3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}

func (c *awsS3Store) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (c *awsS3Store) List(ctx context.Context, prefix string) ([]StoreObject, error) {
	var out []StoreObject
	var token *string
	for {
		resp, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
		}
		for _, obj := range resp.Contents {
			out = append(out, StoreObject{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

func (c *awsS3Store) NewAppender(_ context.Context, key string) (Appender, error) {
	return &s3Appender{store: c, key: key}, nil
}

// s3Appender assembles a partition file through a multipart upload. The upload
// is created lazily on the first full part; small files fall back to a single
// PutObject at Complete.
type s3Appender struct {
	store    *awsS3Store
	key      string
	uploadID string
	partNum  int32
	parts    []types.CompletedPart
	pending  []byte
	done     bool
}

func (a *s3Appender) Append(ctx context.Context, data []byte) error {
	if a.done {
		return fmt.Errorf("append %s: appender finished", a.key)
	}
	a.pending = append(a.pending, data...)
	for len(a.pending) >= s3MinPartSize {
		if err := a.uploadPart(ctx, a.pending[:s3MinPartSize]); err != nil {
			return err
		}
		a.pending = a.pending[s3MinPartSize:]
	}
	return nil
}

func (a *s3Appender) uploadPart(ctx context.Context, part []byte) error {
	if a.uploadID == "" {
		input := &s3.CreateMultipartUploadInput{
			Bucket: aws.String(a.store.bucket),
			Key:    aws.String(a.key),
		}
		if a.store.kmsKey != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(a.store.kmsKey)
		}
		resp, err := a.store.api.CreateMultipartUpload(ctx, input)
		if err != nil {
			return fmt.Errorf("create multipart upload %s: %w", a.key, err)
		}
		a.uploadID = aws.ToString(resp.UploadId)
	}
	a.partNum++
	resp, err := a.store.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(a.store.bucket),
		Key:        aws.String(a.key),
		UploadId:   aws.String(a.uploadID),
		PartNumber: aws.Int32(a.partNum),
		Body:       bytes.NewReader(part),
	})
	if err != nil {
		return fmt.Errorf("upload part %d of %s: %w", a.partNum, a.key, err)
	}
	a.parts = append(a.parts, types.CompletedPart{
		ETag:       resp.ETag,
		PartNumber: aws.Int32(a.partNum),
	})
	return nil
}

func (a *s3Appender) Complete(ctx context.Context) error {
	if a.done {
		return fmt.Errorf("complete %s: appender finished", a.key)
	}
	a.done = true
	if a.uploadID == "" {
		return a.store.Put(ctx, a.key, a.pending)
	}
	if len(a.pending) > 0 {
		if err := a.uploadPart(ctx, a.pending); err != nil {
			return err
		}
		a.pending = nil
	}
	_, err := a.store.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(a.store.bucket),
		Key:      aws.String(a.key),
		UploadId: aws.String(a.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: a.parts,
		},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload %s: %w", a.key, err)
	}
	return nil
}

func (a *s3Appender) Abort(ctx context.Context) error {
	a.done = true
	a.pending = nil
	if a.uploadID == "" {
		return nil
	}
	_, err := a.store.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(a.store.bucket),
		Key:      aws.String(a.key),
		UploadId: aws.String(a.uploadID),
	})
	if err != nil {
		return fmt.Errorf("abort multipart upload %s: %w", a.key, err)
	}
	return nil
}
