package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alphacourse/backend/internal/config"
	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/streaming"
)

// objectAPI is the part of the S3 client used to read course media.
type objectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client configures a client for the provided object store. A custom
// endpoint switches to path-style addressing for S3-compatible services.
func NewS3Client(ctx context.Context, cfg config.ObjectStoreConfig) (*s3.Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Library serves course segments stored as {prefix}/{segment}.{ext}.
type S3Library struct {
	client objectAPI
	bucket string
	prefix string
}

// NewS3Library returns a streaming.Library backed by bucket.
func NewS3Library(client objectAPI, bucket, prefix string) *S3Library {
	return &S3Library{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (l *S3Library) key(name string) string {
	if l.prefix == "" {
		return name
	}
	return path.Join(l.prefix, name)
}

// Resolve probes the known media extensions for segment.
func (l *S3Library) Resolve(ctx context.Context, segment int) (streaming.Media, error) {
	if segment <= 0 {
		return streaming.Media{}, streaming.ErrMediaNotFound
	}
	for _, ext := range streaming.MediaExtensions {
		name := strconv.Itoa(segment) + ext
		out, err := l.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(l.key(name)),
		})
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return streaming.Media{}, fmt.Errorf("s3 head %s: %w", name, err)
		}

		contentType := aws.ToString(out.ContentType)
		if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
			contentType = streaming.ContentTypeFor(nil, name)
		}
		return streaming.Media{
			Segment:     segment,
			Name:        name,
			ContentType: contentType,
			Size:        aws.ToInt64(out.ContentLength),
			ModTime:     aws.ToTime(out.LastModified),
		}, nil
	}
	return streaming.Media{}, streaming.ErrMediaNotFound
}

// Serve proxies the object body, passing Range requests through to S3.
func (l *S3Library) Serve(w http.ResponseWriter, r *http.Request, m streaming.Media) error {
	in := &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key(m.Name)),
	}
	if rng := r.Header.Get("Range"); rng != "" {
		in.Range = aws.String(rng)
	}

	out, err := l.client.GetObject(r.Context(), in)
	if isNotFound(err) {
		return streaming.ErrMediaNotFound
	}
	if err != nil {
		return fmt.Errorf("s3 get %s: %w", m.Name, err)
	}
	defer out.Body.Close()

	h := w.Header()
	streaming.SetMediaHeaders(h, m)
	h.Set("Accept-Ranges", "bytes")
	if !m.ModTime.IsZero() {
		h.Set("Last-Modified", m.ModTime.UTC().Format(http.TimeFormat))
	}
	if out.ContentLength != nil {
		h.Set("Content-Length", strconv.FormatInt(*out.ContentLength, 10))
	}

	status := http.StatusOK
	if cr := aws.ToString(out.ContentRange); cr != "" {
		h.Set("Content-Range", cr)
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, out.Body); err != nil {
		logging.FromContext(r.Context()).Debug("segment stream interrupted", "media", m.Name, "error", err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// uploadAPI is the part of manager.Uploader used to publish media.
type uploadAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// NewUploader returns a multipart uploader sized for video files.
func NewUploader(client *s3.Client) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 16 * 1024 * 1024
		u.LeavePartsOnError = false
	})
}

// uploadTimeout bounds a single media upload.
const uploadTimeout = 30 * time.Minute
