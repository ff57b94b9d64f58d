package streaming

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// MediaExtensions are probed, in order, when resolving a segment.
var MediaExtensions = []string{".mp4", ".mkv", ".webm", ".mov"}

var extensionTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// Media describes a resolved course segment.
type Media struct {
	Segment     int
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Library locates and delivers segment media.
type Library interface {
	Resolve(ctx context.Context, segment int) (Media, error)
	Serve(w http.ResponseWriter, r *http.Request, m Media) error
}

// ContentTypeFor picks the declared type for a media file. Detection from
// the leading bytes wins; the extension is the fallback.
func ContentTypeFor(detected *mimetype.MIME, name string) string {
	if detected != nil && !detected.Is("application/octet-stream") && !detected.Is("text/plain") {
		return detected.String()
	}
	if ct, ok := extensionTypes[filepath.Ext(name)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SetMediaHeaders applies the response headers shared by every library.
func SetMediaHeaders(h http.Header, m Media) {
	h.Set("Content-Type", m.ContentType)
	h.Set("Content-Disposition", "inline")
	h.Set("Cache-Control", "private, no-store")
	h.Set("X-Content-Type-Options", "nosniff")
}

// FileLibrary serves segments from a course directory laid out as
// {segment}.{ext}.
type FileLibrary struct {
	dir string
}

// NewFileLibrary returns a library rooted at dir.
func NewFileLibrary(dir string) *FileLibrary {
	return &FileLibrary{dir: dir}
}

// Resolve finds the first existing file for segment.
func (l *FileLibrary) Resolve(_ context.Context, segment int) (Media, error) {
	if segment <= 0 {
		return Media{}, ErrMediaNotFound
	}
	for _, ext := range MediaExtensions {
		name := strconv.Itoa(segment) + ext
		path := filepath.Join(l.dir, name)

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Media{}, fmt.Errorf("stat %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		detected, err := mimetype.DetectFile(path)
		if err != nil {
			return Media{}, fmt.Errorf("detect content type of %s: %w", name, err)
		}
		return Media{
			Segment:     segment,
			Name:        name,
			ContentType: ContentTypeFor(detected, name),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		}, nil
	}
	return Media{}, ErrMediaNotFound
}

// Serve writes the file with range support.
func (l *FileLibrary) Serve(w http.ResponseWriter, r *http.Request, m Media) error {
	f, err := os.Open(filepath.Join(l.dir, m.Name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrMediaNotFound
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", m.Name, err)
	}
	defer f.Close()

	SetMediaHeaders(w.Header(), m)
	http.ServeContent(w, r, m.Name, m.ModTime, f)
	return nil
}
