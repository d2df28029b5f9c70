// Package lakefs reads and writes the history table through the lakeFS S3
// gateway and commits new versions through the lakeFS REST API.
package lakefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/config"
)

// ErrNotFound is returned when the requested object does not exist on the branch.
var ErrNotFound = errors.New("object not found")

// S3API is the subset of the S3 client used by ObjectStore.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectStore addresses objects on one lakeFS branch. The gateway maps the
// bucket to the repository and the first key segment to the branch.
type ObjectStore struct {
	client     S3API
	repository string
	branch     string
	logger     zerolog.Logger
}

// NewS3Client builds an S3 client pointed at the lakeFS gateway with static
// credentials and path-style addressing.
func NewS3Client(ctx context.Context, cfg config.LakeFSConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}), nil
}

// NewObjectStore creates a store for the configured repository and branch
func NewObjectStore(client S3API, cfg config.LakeFSConfig, logger zerolog.Logger) *ObjectStore {
	return &ObjectStore{
		client:     client,
		repository: cfg.Repository,
		branch:     cfg.Branch,
		logger:     logger,
	}
}

// Key returns the gateway object key for a path on the branch.
func (s *ObjectStore) Key(path string) string {
	return s.branch + "/" + strings.TrimLeft(path, "/")
}

// Get downloads the object at path. A missing object yields ErrNotFound.
func (s *ObjectStore) Get(ctx context.Context, path string) ([]byte, error) {
	key := s.Key(path)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.repository),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", s.repository, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", s.repository, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", s.repository, key, err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Downloaded object")
	return data, nil
}

// Put uploads data to path, replacing any uncommitted object there.
func (s *ObjectStore) Put(ctx context.Context, path string, data []byte) error {
	key := s.Key(path)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.repository),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", s.repository, key, err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Uploaded object")
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
