package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"videojobs/internal/domain"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectInspector reads object metadata without fetching the body.
type ObjectInspector interface {
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

// HeadObjectAPI is the subset of the S3 client used by S3Inspector.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Inspector implements ObjectInspector with HeadObject.
type S3Inspector struct {
	api HeadObjectAPI
}

func NewS3Inspector(api HeadObjectAPI) *S3Inspector {
	return &S3Inspector{api: api}
}

func (i *S3Inspector) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := i.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var apiErr smithy.APIError
		switch {
		case errors.As(err, &notFound):
			return ObjectInfo{}, fmt.Errorf("s3 head %s/%s: %w", bucket, key, domain.ErrNotFound)
		case errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"):
			return ObjectInfo{}, fmt.Errorf("s3 head %s/%s: %w", bucket, key, domain.ErrNotFound)
		case errors.As(err, &apiErr) && apiErr.ErrorCode() == "Forbidden":
			return ObjectInfo{}, fmt.Errorf("s3 head %s/%s: %w", bucket, key, err)
		}
		return ObjectInfo{}, fmt.Errorf("s3 head %s/%s: %w", bucket, key, domain.Transient(err))
	}
	info := ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.LastModified = out.LastModified.UTC()
	}
	return info, nil
}

var (
	_ ObjectInspector = (*S3Inspector)(nil)
	_ ObjectInspector = (*FileStore)(nil)
)
