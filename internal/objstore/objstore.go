// Package objstore opens promoctl inputs and outputs, either local paths or
// s3://bucket/key objects. "-" means stdin or stdout.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kkkkikiki/burnpromo/internal/config"
)

const s3Scheme = "s3://"

// ErrInvalidURI is returned for malformed s3:// locations
var ErrInvalidURI = errors.New("invalid s3 location, want s3://bucket/key")

// ObjectAPI is the part of the S3 client the store uses
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store resolves locations. The S3 client is only built for s3:// locations.
type Store struct {
	newClient func(ctx context.Context) (ObjectAPI, error)
	client    ObjectAPI
	stdin     io.Reader
	stdout    io.Writer
}

// New creates a store that builds its S3 client from cfg on first use.
// Credentials come from the default AWS chain.
func New(cfg config.S3Config) *Store {
	return &Store{
		newClient: func(ctx context.Context) (ObjectAPI, error) {
			return NewS3Client(ctx, cfg)
		},
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
}

// NewWithClient creates a store over an existing S3 client
func NewWithClient(client ObjectAPI) *Store {
	return &Store{client: client, stdin: os.Stdin, stdout: os.Stdout}
}

// NewS3Client creates an S3 client. A custom endpoint (MinIO, R2) usually
// needs path-style addressing.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// ParseS3 splits an s3:// location. ok is false for anything else.
func ParseS3(uri string) (bucket, key string, ok bool, err error) {
	if !strings.HasPrefix(uri, s3Scheme) {
		return "", "", false, nil
	}
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", true, ErrInvalidURI
	}
	return bucket, key, true, nil
}

// Open opens a location for reading
func (s *Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if uri == "-" {
		return io.NopCloser(s.stdin), nil
	}
	bucket, key, isS3, err := ParseS3(uri)
	if err != nil {
		return nil, err
	}
	if !isS3 {
		f, err := os.Open(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", uri, err)
		}
		return f, nil
	}

	client, err := s.s3(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get from S3: %w", err)
	}
	return out.Body, nil
}

// Create opens a location for writing. S3 objects are buffered and
// uploaded on Close.
func (s *Store) Create(ctx context.Context, uri, contentType string) (io.WriteCloser, error) {
	if uri == "-" {
		return nopWriteCloser{s.stdout}, nil
	}
	bucket, key, isS3, err := ParseS3(uri)
	if err != nil {
		return nil, err
	}
	if !isS3 {
		f, err := os.Create(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", uri, err)
		}
		return f, nil
	}

	client, err := s.s3(ctx)
	if err != nil {
		return nil, err
	}
	return &s3Writer{ctx: ctx, client: client, bucket: bucket, key: key, contentType: contentType}, nil
}

func (s *Store) s3(ctx context.Context) (ObjectAPI, error) {
	if s.client != nil {
		return s.client, nil
	}
	client, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

type s3Writer struct {
	ctx         context.Context
	client      ObjectAPI
	bucket      string
	key         string
	contentType string
	buf         bytes.Buffer
	closed      bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed S3 object")
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(w.key),
		Body:        bytes.NewReader(w.buf.Bytes()),
		ContentType: aws.String(w.contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
