// Package s3 provides an S3-based payload store.
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rbaliyan/relay/store"
)

// contentType for stored blobs. Payloads are opaque ciphertext.
const contentType = "application/octet-stream"

// Store implements store.PayloadStore using AWS S3.
type Store struct {
	client *s3.Client
	tm     *transfermanager.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Ensure Store implements PayloadStore.
var _ store.PayloadStore = (*Store)(nil)

// New creates a new S3 payload store.
// The context is used for AWS credential loading and configuration.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{
		region: "us-east-1",
		prefix: "payloads",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
		if o.endpoint != "" {
			opts.BaseEndpoint = aws.String(o.endpoint)
			opts.UsePathStyle = o.usePathStyle
		}
	})

	return &Store{
		client: client,
		tm:     transfermanager.New(client),
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

// buildAWSConfig builds AWS config based on authentication options.
func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	var optFns []func(*config.LoadOptions) error

	optFns = append(optFns, config.WithRegion(o.region))

	switch {
	case o.accessKey != "" && o.secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.roleARN != "":
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		stsCreds := newAssumeRoleProvider(baseCfg, o.roleARN, o.roleSessionName, o.externalID)
		optFns = append(optFns, config.WithCredentialsProvider(stsCreds))

	default:
		// Default credential chain: env vars, shared config, EC2/ECS
		// roles, IRSA on EKS. No explicit credentials needed.
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Put uploads the payload to S3 and returns an s3:// URI.
func (s *Store) Put(ctx context.Context, key string, content io.Reader) (string, error) {
	objectKey := s.objectKey(key)

	input := &transfermanager.UploadObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        content,
		ContentType: aws.String(contentType),
	}
	if _, err := s.tm.UploadObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	s.logger.Debug("uploaded payload to s3", "bucket", s.bucket, "key", objectKey)
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

// Load returns a reader for the payload content.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	return output.Body, nil
}

// Delete removes the payload from S3.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object from s3: %w", err)
	}

	s.logger.Debug("deleted payload from s3", "bucket", bucket, "key", key)
	return nil
}

// objectKey builds a date-partitioned S3 key for the payload.
func (s *Store) objectKey(key string) string {
	now := time.Now().UTC()
	return path.Join(s.prefix, now.Format("2006/01/02"), key)
}

// parseS3URI parses an s3:// URI into bucket and key.
func parseS3URI(uri string) (bucket, key string, err error) {
	if len(uri) < 6 || uri[:5] != "s3://" {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}

	rest := uri[5:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid s3 uri (no key): %s", uri)
}
