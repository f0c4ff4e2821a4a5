// Package imaging persists uploaded photographs and prepares image content
// for report embedding: byte intake (multipart or base64), deterministic
// storage naming, EXIF auto-orientation and bounding-box resize.
package imaging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"khyanalt/internal/domain"
	"khyanalt/internal/logging"
)

// Upload limits (per request).
const (
	MaxImageBytes = 10 << 20 // 10 MiB per image
	MaxImageParts = 10       // parts per multipart request
)

// allowedMIME maps accepted upload types to their storage extension.
var allowedMIME = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// ExtForMIME returns the storage extension for an accepted mime type.
func ExtForMIME(mime string) (string, error) {
	ext, ok := allowedMIME[strings.ToLower(strings.TrimSpace(mime))]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidMedia, mime)
	}
	return ext, nil
}

// FileStore writes image bytes under the configured root directory and
// derives their public URLs.
type FileStore struct {
	root      string
	urlBase   string
	urlPrefix string
}

// NewFileStore returns a store over root. base and prefix form the public
// URL {base}/{prefix}/{filename}.
func NewFileStore(root, base, prefix string) *FileStore {
	return &FileStore{
		root:      root,
		urlBase:   strings.TrimRight(base, "/"),
		urlPrefix: strings.Trim(prefix, "/"),
	}
}

// Filename builds the deterministic storage name. It carries enough identity
// to be recoverable without a database lookup.
func Filename(inspectionID, answerID int64, fieldID string, epochMs int64, order int, ext string) string {
	return fmt.Sprintf("inspection_%d_ans_%d_field_%s_%d_%d.%s",
		inspectionID, answerID, fieldID, epochMs, order, ext)
}

// Save validates and persists one image, returning the stored filename and
// its public URL.
func (fs *FileStore) Save(inspectionID, answerID int64, fieldID string, order int, mime string, data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("%w: empty image payload", domain.ErrValidation)
	}
	if len(data) > MaxImageBytes {
		return "", "", fmt.Errorf("%w: image is %d bytes", domain.ErrPayloadTooLarge, len(data))
	}
	ext, err := ExtForMIME(mime)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(fs.root, 0o755); err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	name := Filename(inspectionID, answerID, fieldID, time.Now().UnixMilli(), order, ext)
	path := filepath.Join(fs.root, name)
	// O_EXCL: a name already on disk is never overwritten.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	logging.Images("stored %s (%d bytes)", name, len(data))
	return name, fs.PublicURL(name), nil
}

// PublicURL returns the canonical public form for a stored filename.
func (fs *FileStore) PublicURL(filename string) string {
	return fmt.Sprintf("%s/%s/%s", fs.urlBase, fs.urlPrefix, filename)
}

// FilenameFromURL recovers the storage name from a public URL.
func (fs *FileStore) FilenameFromURL(url string) string {
	return filepath.Base(url)
}

// Read loads the original on-disk bytes for a stored filename.
func (fs *FileStore) Read(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(fs.root, filepath.Base(filename)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image %s: %w", filename, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return data, nil
}

// Remove deletes a stored filename; missing files are not an error.
func (fs *FileStore) Remove(filename string) error {
	err := os.Remove(filepath.Join(fs.root, filepath.Base(filename)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}
