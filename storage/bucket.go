package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
)

var (
	// ErrInvalidPath is returned for object paths that escape the bucket
	ErrInvalidPath = errors.New("invalid object path")
	// ErrNotImage is returned for photos whose bytes are not JPEG, PNG, GIF or WebP
	ErrNotImage = errors.New("only JPEG, PNG, GIF or WebP photos can be uploaded")
)

// Bucket is a public-read object store on the local filesystem.
// Objects written to <dir>/<name>/<path> are served at <baseURL>/storage/<name>/<path>.
type Bucket struct {
	dir          string
	name         string
	baseURL      string
	maxDimension int
	now          func() time.Time
}

// NewBucket creates the bucket directory if needed
func NewBucket(dir, name, publicBaseURL string, maxDimension int) (*Bucket, error) {
	b := &Bucket{
		dir:          dir,
		name:         name,
		baseURL:      strings.TrimRight(publicBaseURL, "/"),
		maxDimension: maxDimension,
		now:          time.Now,
	}
	if err := os.MkdirAll(b.root(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return b, nil
}

// Name of the bucket
func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) root() string {
	return filepath.Join(b.dir, b.name)
}

// PhotoPath names a report photo: reports/<unix-millis>-<index>.<ext>.
// The extension comes from the content type alone; anything but a supported image is .bin.
func PhotoPath(ts time.Time, index int, contentType string) string {
	return fmt.Sprintf("reports/%d-%d.%s", ts.UnixMilli(), index, photoExtension(contentType))
}

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

func photoExtension(contentType string) string {
	if ext, ok := imageExtensions[contentType]; ok {
		return ext
	}
	return "bin"
}

// DetectImage sniffs data and reports whether it is a supported image
func DetectImage(data []byte) (string, bool) {
	contentType := http.DetectContentType(data)
	_, ok := imageExtensions[contentType]
	return contentType, ok
}

// ContentTypeFor is the Content-Type an object is served with
func ContentTypeFor(objectPath string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(objectPath), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

// IsImagePath reports whether an object is served as an image
func IsImagePath(objectPath string) bool {
	return strings.HasPrefix(ContentTypeFor(objectPath), "image/")
}

// resolve maps an object path to a file inside the bucket
func (b *Bucket) resolve(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" || strings.Contains(objectPath, "..") {
		return "", ErrInvalidPath
	}
	return filepath.Join(b.root(), filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// PublicURL returns the URL an object is readable at
func (b *Bucket) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/%s/%s", b.baseURL, b.name, strings.TrimPrefix(objectPath, "/"))
}

// Put writes an object and returns its public URL
func (b *Bucket) Put(ctx context.Context, objectPath string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file, err := b.resolve(objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp := file + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", objectPath, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to commit object %s: %w", objectPath, err)
	}
	return b.PublicURL(objectPath), nil
}

// UploadPhoto stores a report photo under a time-and-index derived path and returns its public URL.
// The type is sniffed from the bytes; the client's filename and claimed type are not trusted.
// JPEG photos are turned upright and downscaled first; if that fails the original bytes are kept.
func (b *Bucket) UploadPhoto(ctx context.Context, filename string, data []byte, index int) (string, error) {
	if len(data) == 0 {
		return "", errors.New("photo is empty")
	}
	if index < 0 {
		return "", fmt.Errorf("invalid photo index %d", index)
	}
	contentType, ok := DetectImage(data)
	if !ok {
		return "", ErrNotImage
	}

	if contentType == "image/jpeg" {
		if normalized, err := NormalizeJPEG(data, b.maxDimension); err != nil {
			log.Warnf("Keeping original photo %q: %v", filename, err)
		} else {
			data = normalized
		}
	}

	objectPath := PhotoPath(b.now(), index, contentType)
	url, err := b.Put(ctx, objectPath, data)
	if err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"bucket": b.name, "path": objectPath, "bytes": len(data)}).Info("Photo stored")
	return url, nil
}

// Open returns the file backing an object, for serving public reads
func (b *Bucket) Open(objectPath string) (string, error) {
	file, err := b.resolve(objectPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(file)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", ErrInvalidPath
	}
	return file, nil
}
