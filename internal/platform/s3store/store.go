// Package s3store implements contentstore.Store on an S3 bucket with
// versioning enabled; the S3 VersionId is the store version id.
package s3store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
)

const PageSize = 1000

type Option func(*s3Store)

func Bucket(bucket string) Option {
	return func(s *s3Store) {
		s.bucket = bucket
	}
}

func AWSConfig(cfg *aws.Config) Option {
	return func(s *s3Store) {
		s.awsConfig = cfg
	}
}

func PresignTTL(ttl time.Duration) Option {
	return func(s *s3Store) {
		if ttl > 0 {
			s.presignTTL = ttl
		}
	}
}

func New(log *logger.Logger, option Option, options ...Option) (contentstore.Store, error) {
	s := &s3Store{presignTTL: 15 * time.Minute}
	option(s)
	for _, apply := range options {
		apply(s)
	}
	if s.bucket == "" {
		return nil, fmt.Errorf("missing S3 bucket")
	}

	sess, err := session.NewSession(s.awsConfig)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	s.s3 = s3.New(sess)
	s.uploader = s3manager.NewUploaderWithClient(s.s3)
	s.log = log.With("service", "S3Store", "bucket", s.bucket)
	s.log.Info("Object storage initialized", "mode", "s3", "presign_ttl", s.presignTTL.String())
	return s, nil
}

type s3Store struct {
	log        *logger.Logger
	bucket     string
	awsConfig  *aws.Config
	presignTTL time.Duration
	s3         *s3.S3
	uploader   *s3manager.Uploader
}

func (s *s3Store) Put(ctx context.Context, key string, rdr io.Reader) (string, error) {
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        rdr,
		ContentType: aws.String(contentstore.ContentTypeForKey(key)),
	})
	if err != nil {
		return "", toStoreError(key, err)
	}
	return aws.StringValue(out.VersionID), nil
}

func (s *s3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, toStoreError(key, err)
	}
	return obj.Body, nil
}

func (s *s3Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	eachPage := func(page *s3.ListObjectsV2Output, more bool) bool {
		for _, obj := range page.Contents {
			if key := aws.StringValue(obj.Key); key != "" {
				keys = append(keys, key)
			}
		}
		return more
	}
	params := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int64(PageSize),
	}
	if err := s.s3.ListObjectsV2PagesWithContext(ctx, params, eachPage); err != nil {
		return nil, toStoreError(prefix, err)
	}
	return keys, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return toStoreError(key, err)
}

func (s *s3Store) DeleteVersion(ctx context.Context, key, versionID string) error {
	in := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if versionID != "" {
		in.VersionId = aws.String(versionID)
	}
	_, err := s.s3.DeleteObjectWithContext(ctx, in)
	return toStoreError(key, err)
}

func (s *s3Store) PresignedURL(ctx context.Context, key string) (string, error) {
	req, _ := s.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)
	u, err := req.Presign(s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return u, nil
}

func (s *s3Store) String() string {
	return "s3@" + s.bucket
}

func toStoreError(key string, err error) error {
	if err == nil {
		return nil
	}
	if rerr, ok := err.(awserr.RequestFailure); ok && rerr.StatusCode() == 404 {
		switch rerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%s: %w", key, contentstore.ErrObjectNotFound)
		}
	}
	return fmt.Errorf("s3 %s: %w", key, err)
}
