package mediastore

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ProgressFunc receives the number of bytes shipped so far.
type ProgressFunc func(uploaded int64)

// S3MediaStore stores quickie media in S3 and hands back the public URL that
// content documents embed. Deletion is by that same reference.
type S3MediaStore struct {
	bucket    string
	urlPrefix string
	uploader  *s3manager.Uploader
	svc       *s3.S3
}

func NewS3MediaStore(bucket string) (*S3MediaStore, error) {
	region := os.Getenv("AWS_REGION")
	if len(region) == 0 {
		region = "us-west-1"
	}
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	prefix := os.Getenv("MEDIA_URL_PREFIX")
	if len(prefix) == 0 {
		prefix = "https://" + bucket + ".s3.amazonaws.com/"
	}

	return &S3MediaStore{
		bucket:    bucket,
		urlPrefix: prefix,
		uploader:  s3manager.NewUploader(sess),
		svc:       s3.New(sess),
	}, nil
}

// Upload ships one media object and returns its public URL. progress may be
// nil; when set it is invoked as bytes are consumed by the uploader.
func (s *S3MediaStore) Upload(ctx context.Context, body io.Reader, ext string, progress ProgressFunc) (string, error) {
	key := uuid.New().String()
	if len(ext) > 0 {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		key += ext
	}

	reader := body
	if progress != nil {
		reader = &progressReader{inner: body, report: progress}
	}

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		ACL:    aws.String("public-read"),
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   reader,
	})
	if err != nil {
		return "", errors.Wrap(err, "media upload")
	}
	return s.urlPrefix + key, nil
}

// DeleteByReference removes the object behind a URL previously returned by
// Upload. Foreign URLs are refused rather than guessed at.
func (s *S3MediaStore) DeleteByReference(ctx context.Context, url string) error {
	if !strings.HasPrefix(url, s.urlPrefix) {
		return errors.Errorf("url %s is not managed by this store", url)
	}
	key := strings.TrimPrefix(url, s.urlPrefix)

	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return errors.Wrap(err, "media delete")
}

type progressReader struct {
	inner    io.Reader
	report   ProgressFunc
	uploaded int64
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.report(atomic.AddInt64(&r.uploaded, int64(n)))
	}
	return n, err
}
