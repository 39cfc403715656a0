// Package s3 serves an S3 or MinIO bucket, optionally below a key prefix, as
// a blob store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"segtag/internal/blob/core"
)

// Config selects the bucket. Without static keys the default AWS credential
// chain applies.
type Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`   // acts as the root directory
	Endpoint        string `yaml:"endpoint"` // custom endpoint, e.g. MinIO
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	PathStyle       bool   `yaml:"path_style"`
}

// Store talks to one bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds the SDK client from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client, bucket: cfg.Bucket, prefix: normalizePrefix(cfg.Prefix)}, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *Store) Driver() core.Driver { return core.DriverS3 }

func (s *Store) object(key string) (string, string, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, s.prefix + clean, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	clean, obj, err := s.object(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &obj})
	if err != nil {
		return core.Info{}, nil, mapError(clean, err)
	}
	return info(clean, out.ContentLength, out.ContentType, out.LastModified), out.Body, nil
}

func (s *Store) Stat(ctx context.Context, key string) (core.Info, error) {
	clean, obj, err := s.object(key)
	if err != nil {
		return core.Info{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &obj})
	if err != nil {
		return core.Info{}, mapError(clean, err)
	}
	return info(clean, out.ContentLength, out.ContentType, out.LastModified), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	full := s.prefix + prefix
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &full})
	var out []core.Info
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			out = append(out, info(key, obj.Size, nil, obj.LastModified))
		}
	}
	return out, nil
}

// Put is create-only through a conditional write (If-None-Match: *).
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	clean, obj, err := s.object(key)
	if err != nil {
		return core.Info{}, err
	}
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &obj, Body: r, IfNoneMatch: aws.String("*")}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return core.Info{}, mapError(clean, err)
	}
	return s.Stat(ctx, clean)
}

// mapError folds the SDK's missing-object and precondition shapes into the
// core sentinels.
func mapError(key string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return core.NotFound(key, err)
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		switch re.HTTPStatusCode() {
		case http.StatusNotFound:
			return core.NotFound(key, err)
		case http.StatusPreconditionFailed, http.StatusConflict:
			return fmt.Errorf("%s: %w", key, core.ErrExists)
		}
	}
	return err
}

func info(key string, size *int64, contentType *string, modified *time.Time) core.Info {
	return core.Info{
		Key:         key,
		Size:        aws.ToInt64(size),
		ContentType: aws.ToString(contentType),
		ModTime:     aws.ToTime(modified).UTC(),
	}
}
