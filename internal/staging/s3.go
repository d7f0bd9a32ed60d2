package staging

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

// deleteBatch is the S3 DeleteObjects per-request key limit.
const deleteBatch = 1000

// s3Store is a Store over an S3 bucket prefix. Writes stream through an
// s3manager.Uploader so shards never have to be fully buffered.
type s3Store struct {
	loc      Location
	bucket   string
	prefix   string
	client   s3iface.S3API
	uploader *s3manager.Uploader
}

// newS3Store builds a session from the environment (AWS_REGION, credentials
// chain). The location query may override "region" and "endpoint"; an
// explicit endpoint switches to path-style addressing for S3-compatible
// servers.
func newS3Store(ctx context.Context, l Location) (*s3Store, error) {
	cfg := aws.NewConfig()
	region := l.Query.Get("region")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg = cfg.WithRegion(region)
	if ep := l.Query.Get("endpoint"); ep != "" {
		cfg = cfg.WithEndpoint(ep).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "staging: aws session")
	}
	client := s3.New(sess)
	return newS3StoreWithClient(l, client), nil
}

func newS3StoreWithClient(l Location, client s3iface.S3API) *s3Store {
	return &s3Store{
		loc:      l,
		bucket:   l.Bucket,
		prefix:   strings.Trim(l.Path, "/"),
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

func (s *s3Store) URL() string { return s.loc.String() }

func (s *s3Store) key(name string) (string, error) {
	n, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return path.Join(s.prefix, n), nil
}

// s3Writer pipes Write calls into a concurrent upload; Close waits for it.
type s3Writer struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *s3Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

func (s *s3Store) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			err = errors.Wrapf(err, "staging: upload s3://%s/%s", s.bucket, key)
		}
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

func (s *s3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.Wrapf(ErrNotExist, "open s3://%s/%s", s.bucket, key)
		}
		return nil, errors.Wrapf(err, "staging: get s3://%s/%s", s.bucket, key)
	}
	return out.Body, nil
}

func (s *s3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	full := s.prefix + "/"
	if s.prefix == "" {
		full = ""
	}
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full + prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "staging: list s3://%s/%s", s.bucket, full+prefix)
	}
	return keys, nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(strings.TrimPrefix(k, s.prefix), "/"))
	}
	// ListObjectsV2 already returns keys in UTF-8 binary order.
	return out, nil
}

func (s *s3Store) RemoveAll(ctx context.Context) error {
	keys, err := s.listKeys(ctx, "")
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += deleteBatch {
		end := start + deleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, &s3.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return errors.Wrapf(err, "staging: delete under s3://%s/%s", s.bucket, s.prefix)
		}
	}
	return nil
}

// CheckWritable puts and deletes a marker object.
func (s *s3Store) CheckWritable(ctx context.Context) error {
	key, err := s.key(".write-check")
	if err != nil {
		return err
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return errors.Wrapf(err, "staging: s3://%s/%s is not writable", s.bucket, s.prefix)
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return errors.Wrapf(err, "staging: remove write check")
}
