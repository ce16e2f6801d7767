// Package s3 uploads staged media to S3 compatible object storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicURL is the base URL objects are served from. Defaults to
	// Endpoint/Bucket.
	PublicURL string
	KeyPrefix string
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Uploader struct {
	client objectPutter
	cfg    Config
	now    func() time.Time
}

func New(ctx context.Context, cfg Config) (*Uploader, error) {
	const op = "media.s3.New"

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%s: bucket is required", op)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, cfg), nil
}

func NewWithClient(client objectPutter, cfg Config) *Uploader {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "media"
	}
	return &Uploader{client: client, cfg: cfg, now: time.Now}
}

// Upload puts the file at path into the bucket and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	const op = "media.s3.Upload"

	if path == "" {
		return "", fmt.Errorf("%s: %w", op, errors.New("empty path"))
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	key := u.objectKey(ext)

	in := &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		in.ContentType = aws.String(ct)
	}

	if _, err := u.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return u.publicURL(key), nil
}

func (u *Uploader) objectKey(ext string) string {
	d := u.now().UTC()
	return fmt.Sprintf("%s/%d/%02d/%s%s", u.cfg.KeyPrefix, d.Year(), d.Month(), uuid.New(), ext)
}

func (u *Uploader) publicURL(key string) string {
	base := u.cfg.PublicURL
	if base == "" {
		base = strings.TrimRight(u.cfg.Endpoint, "/") + "/" + u.cfg.Bucket
	}
	return strings.TrimRight(base, "/") + "/" + key
}
