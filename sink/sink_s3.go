package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the object an S3 sink produces.
type S3Config struct {
	Bucket string
	// Prefix is prepended to Key with a single slash.
	Prefix string
	Key    string

	ContentType     string
	ContentEncoding string

	// SpoolDir is where the object is staged before upload. Empty uses the
	// system temp directory.
	SpoolDir string
}

// S3 stages chunks in a local spool file and uploads the object on Close.
//
// PutObject wants the full content length upfront, so the artifact is
// spooled to disk rather than held in memory; the upload streams straight
// from the file. Abort skips the upload. The spool file is removed on every
// path.
type S3 struct {
	client s3API
	ctx    context.Context

	key    string
	keyPtr *string
	cfg    S3Config

	// Pointer estável para o bucket (sem aws.String).
	bucket    string
	bucketPtr *string

	f    *os.File
	size int64
	err  error

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Sink    = (*S3)(nil)
	_ Aborter = (*S3)(nil)
)

// NewS3 opens an S3 sink for one object. The context bounds the final
// upload.
func NewS3(ctx context.Context, client s3API, cfg S3Config) (*S3, error) {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		panic("bucket is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("sink: empty object key")
	}

	f, err := os.CreateTemp(cfg.SpoolDir, "s3-upload-*")
	if err != nil {
		return nil, fmt.Errorf("sink: create spool file: %w", err)
	}

	// Mantém semântica do S3 (não faz path-clean).
	key := strings.TrimLeft(cfg.Key, "/")
	if prefix := strings.Trim(cfg.Prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}

	s := &S3{
		client: client,
		ctx:    ctx,
		key:    key,
		cfg:    cfg,
		bucket: cfg.Bucket,
		f:      f,
	}
	s.bucketPtr = &s.bucket
	s.keyPtr = &s.key
	return s, nil
}

func (s *S3) Write(p []byte) (Result, error) {
	if s.err != nil {
		return Ready, s.err
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	if err != nil {
		s.err = fmt.Errorf("%w: spool write: %w", ErrAborted, err)
		return Ready, s.err
	}
	return Ready, nil
}

// Await returns immediately; the spool file absorbs writes without
// saturating.
func (s *S3) Await(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

// Close uploads the spooled object and removes the spool file.
func (s *S3) Close() error {
	s.closeOnce.Do(func() {
		defer s.discard()
		s.closeErr = s.upload()
	})
	return s.closeErr
}

// Abort removes the spool file without uploading.
func (s *S3) Abort(reason error) {
	s.closeOnce.Do(func() {
		if s.err == nil {
			if reason == nil {
				s.err = ErrAborted
			} else {
				s.err = fmt.Errorf("%w: %w", ErrAborted, reason)
			}
		}
		s.discard()
		s.closeErr = s.err
	})
}

func (s *S3) upload() error {
	if s.err != nil {
		return s.err
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("sink: rewind spool file: %w", err)
	}

	// Evita aws.String/aws.Int64 (alocam).
	cl := s.size
	input := s3.PutObjectInput{
		Bucket:        s.bucketPtr,
		Key:           s.keyPtr,
		Body:          s.f,
		ContentLength: &cl,
	}
	if s.cfg.ContentType != "" {
		input.ContentType = &s.cfg.ContentType
	}
	if s.cfg.ContentEncoding != "" {
		input.ContentEncoding = &s.cfg.ContentEncoding
	}

	if _, err := s.client.PutObject(s.ctx, &input); err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", s.key, err)
	}
	return nil
}

func (s *S3) discard() {
	name := s.f.Name()
	s.f.Close()
	os.Remove(name)
}
