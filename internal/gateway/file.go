package gateway

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/campaignops/api/internal/model"
)

// File is one input file of a submission. Open may be called more than once.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FileFromBytes wraps in-memory content
func FileFromBytes(name, contentType string, data []byte) File {
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FileFromPath wraps a file on disk. The content type is guessed from the
// extension and left empty when unknown so it is sniffed later.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// detect returns the declared media type, or the sniffed one when nothing
// useful was declared
func (f File) detect() (string, error) {
	if ct := DeclaredType(f.ContentType); ct != "" {
		return ct, nil
	}
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	m, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", err
	}
	return baseType(m.String()), nil
}

// DeclaredType returns the media type a sender declared, or "" when the
// declaration is missing or only says "binary" and the content must be
// sniffed
func DeclaredType(ct string) string {
	mt := baseType(ct)
	if mt == "application/octet-stream" {
		return ""
	}
	return mt
}

func baseType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

var csvTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"text/plain":               true,
	"application/vnd.ms-excel": true,
}

// Matches reports whether a media type belongs to the category
func Matches(category model.MediaCategory, mediaType string) bool {
	mediaType = baseType(mediaType)
	switch category {
	case model.MediaCategoryNone:
		return true
	case model.MediaCategoryCSV:
		return csvTypes[mediaType]
	case model.MediaCategoryVideo, model.MediaCategoryImage, model.MediaCategoryAudio:
		return strings.HasPrefix(mediaType, string(category)+"/")
	default:
		return false
	}
}
