package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config holds the connection settings for S3-compatible storage.
type S3Config struct {
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads attachments addressed as s3://bucket/key.
type S3Source struct {
	client S3API
}

// NewS3Source builds an S3 client from cfg. Static keys are used when both
// are set; otherwise the default AWS credential chain applies.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3Source{client: client}, nil
}

// NewS3SourceWithClient creates an S3Source with a custom client, used for testing.
func NewS3SourceWithClient(client S3API) *S3Source {
	return &S3Source{client: client}
}

// IsS3Path reports whether p uses the s3:// scheme.
func IsS3Path(p string) bool {
	return strings.HasPrefix(strings.ToLower(p), "s3://")
}

// ParseS3Path splits s3://bucket/key into its bucket and key.
func ParseS3Path(p string) (bucket, key string, err error) {
	u, err := url.Parse(p)
	if err != nil || !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fmt.Errorf("invalid s3 path %q", p)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path %q: bucket and key are required", p)
	}
	return u.Host, key, nil
}

// Exists reports whether the object exists.
func (s *S3Source) Exists(ctx context.Context, p string) (bool, error) {
	bucket, key, err := ParseS3Path(p)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat s3 object %s: %w", p, err)
	}
	return true, nil
}

// ReadBytes downloads the object.
func (s *S3Source) ReadBytes(ctx context.Context, p string) ([]byte, error) {
	bucket, key, err := ParseS3Path(p)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("failed to get s3 object %s: %w", p, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("failed to read s3 object %s: %w", p, err)
	}
	return buf.Bytes(), nil
}

// DetectMIMEType prefers the key's extension, then the stored Content-Type,
// then sniffs the object.
func (s *S3Source) DetectMIMEType(ctx context.Context, p string) (string, error) {
	if ct := byExtension(p); ct != "" {
		return ct, nil
	}

	bucket, key, err := ParseS3Path(p)
	if err != nil {
		return "", err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		if ct := normalizeMIME(aws.ToString(head.ContentType)); ct != "" && ct != OctetStream {
			return ct, nil
		}
	}

	data, err := s.ReadBytes(ctx, p)
	if err != nil {
		return "", err
	}
	return sniff(bytes.NewReader(data)), nil
}

// Basename returns the last element of the object key.
func (s *S3Source) Basename(p string) string {
	if _, key, err := ParseS3Path(p); err == nil {
		return path.Base(key)
	}
	return path.Base(p)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
