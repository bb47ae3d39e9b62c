package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campaignops/api/internal/client"
	"github.com/campaignops/api/internal/gateway"
	"github.com/campaignops/api/internal/model"
)

// maxParallelUploads bounds the files of one submission stored at once
const maxParallelUploads = 4

var (
	ErrNoFiles          = errors.New("no files uploaded")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// UploadService stores submitted job inputs in object storage
type UploadService struct {
	storage client.StorageClient
	logger  *zap.Logger
}

// NewUploadService creates a new upload service
func NewUploadService(storage client.StorageClient, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadService{
		storage: storage,
		logger:  logger,
	}
}

// StoreFiles validates every file against the category and uploads them in
// parallel. Nothing is uploaded when any file is rejected.
func (s *UploadService) StoreFiles(ctx context.Context, userID string, category model.MediaCategory, files []*multipart.FileHeader) ([]model.StoredFile, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	types := make([]string, len(files))
	for i, fh := range files {
		mediaType, err := detectMediaType(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		if !gateway.Matches(category, mediaType) {
			return nil, fmt.Errorf("%w: %s is %s, want %s", ErrUnsupportedMedia, fh.Filename, mediaType, category)
		}
		types[i] = mediaType
	}

	prefix := fmt.Sprintf("uploads/%s/%s", userID, uuid.New().String())
	stored := make([]model.StoredFile, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, fh := range files {
		g.Go(func() error {
			f, err := fh.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", fh.Filename, err)
			}
			defer f.Close()

			// the index keeps same-named files apart
			key := fmt.Sprintf("%s/%d-%s", prefix, i, sanitizeName(fh.Filename))
			url, err := s.storage.Upload(gctx, key, f, types[i])
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", fh.Filename, err)
			}
			stored[i] = model.StoredFile{
				Name:        fh.Filename,
				Key:         key,
				URL:         url,
				ContentType: types[i],
				Size:        fh.Size,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.cleanup(context.WithoutCancel(ctx), stored)
		return nil, err
	}

	s.logger.Debug("files stored", zap.String("prefix", prefix), zap.Int("count", len(stored)))
	return stored, nil
}

// Open streams a stored file
func (s *UploadService) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.storage.Download(ctx, key)
}

// Put stores generated content such as exports and returns its URL
func (s *UploadService) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	return s.storage.Upload(ctx, key, body, contentType)
}

func (s *UploadService) cleanup(ctx context.Context, stored []model.StoredFile) {
	for _, f := range stored {
		if f.Key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, f.Key); err != nil {
			s.logger.Warn("failed to remove partial upload", zap.String("key", f.Key), zap.Error(err))
		}
	}
}

// detectMediaType trusts a specific declared type and sniffs otherwise
func detectMediaType(fh *multipart.FileHeader) (string, error) {
	if declared := gateway.DeclaredType(fh.Header.Get("Content-Type")); declared != "" {
		return declared, nil
	}
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}
