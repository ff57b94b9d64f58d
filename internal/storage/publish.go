package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/streaming"
)

var segmentFilePattern = regexp.MustCompile(`^[1-9][0-9]*\.(mp4|mkv|webm|mov)$`)

// Publisher uploads a local course directory to the media bucket.
type Publisher struct {
	uploader uploadAPI
	bucket   string
	prefix   string
}

// NewPublisher returns a Publisher writing under bucket/prefix.
func NewPublisher(uploader uploadAPI, bucket, prefix string) *Publisher {
	return &Publisher{uploader: uploader, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Publish uploads every segment file in dir and reports how many were sent.
// Files not named {segment}.{ext} are skipped.
func (p *Publisher) Publish(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read course dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && segmentFilePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	logger := logging.FromContext(ctx)
	published := 0
	for _, name := range names {
		if err := p.upload(ctx, filepath.Join(dir, name), name); err != nil {
			return published, err
		}
		published++
		logger.Info("segment published", "media", name, "bucket", p.bucket)
	}
	return published, nil
}

func (p *Publisher) upload(ctx context.Context, path, name string) error {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect content type of %s: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	key := name
	if p.prefix != "" {
		key = p.prefix + "/" + name
	}
	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(streaming.ContentTypeFor(detected, name)),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}
