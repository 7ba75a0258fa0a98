// Package s3src provides an io.ReaderAt over ranged GETs of an S3 object,
// so archives stored in S3 or S3-compatible storage can be opened with
// archivey.OpenReaderAt.
package s3src

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ErrChanged is returned when the object was replaced since the source was
// opened.
var ErrChanged = errors.New("s3src: object changed")

// API is the subset of the S3 client used by Source. *s3.Client
// implements it.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config contains the settings for NewClient.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// NewClient builds an S3 client from the default AWS configuration chain,
// overridden by cfg.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// ParseURL splits "s3://bucket/key" into its bucket and key.
func ParseURL(u string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", u)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and a key: %q", u)
	}
	return bucket, key, nil
}

// Source reads one S3 object with ranged GETs. Reads are pinned to the
// ETag seen when the source was opened.
type Source struct {
	ctx    context.Context
	api    API
	bucket string
	key    string
	size   int64
	etag   string
	log    *zap.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithLogger logs every ranged GET at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(s *Source) {
		s.log = log
	}
}

// NewSource opens bucket/key. ctx bounds the HEAD request and every later
// read.
func NewSource(ctx context.Context, api API, bucket, key string, opts ...Option) (*Source, error) {
	s := &Source{ctx: ctx, api: api, bucket: bucket, key: key}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}

	out, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat s3://%s/%s: %w", bucket, key, err)
	}
	s.size = aws.ToInt64(out.ContentLength)
	s.etag = aws.ToString(out.ETag)
	s.log.Debug("s3 source opened",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", s.size))
	return s, nil
}

// Size returns the object size.
func (s *Source) Size() int64 {
	return s.size
}

// Name returns the last element of the key.
func (s *Source) Name() string {
	return path.Base(s.key)
}

// ReadAt implements io.ReaderAt with one ranged GET per call.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), s.size) - 1
	expected := int(end - off + 1)

	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	}
	if s.etag != "" {
		in.IfMatch = aws.String(s.etag)
	}
	s.log.Debug("ranged get", zap.String("key", s.key), zap.Int64("offset", off), zap.Int64("end", end))

	out, err := s.api.GetObject(s.ctx, in)
	if err != nil {
		var status interface{ HTTPStatusCode() int }
		if errors.As(err, &status) && status.HTTPStatusCode() == http.StatusPreconditionFailed {
			return 0, ErrChanged
		}
		return 0, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}
