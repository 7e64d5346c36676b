package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"prospector/internal/config"
	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/storage"
)

// getObjectAPI is the subset of the S3 client used for fetching.
type getObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Client struct {
	client        getObjectAPI
	defaultBucket string
}

// NewS3Client creates a new S3-backed ObjectStorage implementation.
func NewS3Client(cfg *config.S3Config) (port.ObjectStorage, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return newWithAPI(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket), nil
}

func newWithAPI(api getObjectAPI, defaultBucket string) *s3Client {
	return &s3Client{client: api, defaultBucket: defaultBucket}
}

// ParseRef splits "s3://bucket/key" into its parts. A bare key resolves
// against defaultBucket.
func ParseRef(ref, defaultBucket string) (bucket, key string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", domain.ErrInvalidReference
	}
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, _ = strings.Cut(rest, "/")
	} else if strings.Contains(ref, "://") {
		return "", "", fmt.Errorf("%w: unsupported scheme in %q", domain.ErrInvalidReference, ref)
	} else {
		bucket, key = defaultBucket, strings.TrimPrefix(ref, "/")
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", domain.ErrInvalidReference, ref)
	}
	return bucket, key, nil
}

func (c *s3Client) Fetch(ctx context.Context, ref string) (*port.Object, error) {
	bucket, key, err := ParseRef(ref, c.defaultBucket)
	if err != nil {
		return nil, err
	}

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nsb *types.NoSuchBucket
		if errors.As(err, &nsk) || errors.As(err, &nsb) {
			return nil, fmt.Errorf("%w: s3://%s/%s", domain.ErrFileNotFound, bucket, key)
		}
		if clientFault(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s: %w", domain.ErrFileUnavailable, bucket, key, err)
		}
		return nil, fmt.Errorf("s3 download: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 download read: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: s3://%s/%s", domain.ErrEmptyFile, bucket, key)
	}

	return &port.Object{
		Body:        data,
		ContentType: storage.ContentType(aws.ToString(result.ContentType), key, data),
		Size:        int64(len(data)),
	}, nil
}

// clientFault reports a 4xx response that a retry cannot fix, such as
// access denied. Timeouts and throttling stay retryable.
func clientFault(err error) bool {
	var re *awshttp.ResponseError
	if !errors.As(err, &re) {
		return false
	}
	code := re.HTTPStatusCode()
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
