package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cloo-solutions/ctirag/internal/corpus"
	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/storage"
	"go.uber.org/zap"
)

// BundleStore persists uploaded bundle documents by file name.
type BundleStore interface {
	List(ctx context.Context) ([]domain.BundleFile, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	Write(ctx context.Context, name string, data []byte) (*domain.BundleFile, error)
	Delete(ctx context.Context, name string) error
}

const renameLayout = "20060102_150405"

// BundleService validates uploads and loads stored bundles for retrieval.
type BundleService struct {
	store  BundleStore
	logger *zap.Logger
	now    func() time.Time
}

func NewBundleService(store BundleStore, logger *zap.Logger) *BundleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores data under the cleaned base name of filename. The document
// must parse as a bundle. An existing file is never overwritten: the upload
// gets a timestamp suffix instead.
func (s *BundleService) Upload(ctx context.Context, filename string, data []byte) (*domain.BundleFile, error) {
	if s.store == nil {
		return nil, domain.ErrNoBundleStore
	}
	name, err := storage.CleanName(filename)
	if err != nil {
		return nil, err
	}
	if _, err := corpus.ParseBundle(data); err != nil {
		return nil, err
	}

	exists, err := s.store.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check bundle: %w", err)
	}
	if exists {
		ext := path.Ext(name)
		name = strings.TrimSuffix(name, ext) + "_" + s.now().Format(renameLayout) + ext
	}

	file, err := s.store.Write(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store bundle: %w", err)
	}
	s.logger.Info("bundle uploaded", zap.String("filename", file.Name), zap.Int64("size", file.Size))
	return file, nil
}

// List returns stored bundle files sorted by name.
func (s *BundleService) List(ctx context.Context) ([]domain.BundleFile, error) {
	if s.store == nil {
		return nil, domain.ErrNoBundleStore
	}
	return s.store.List(ctx)
}

func (s *BundleService) Delete(ctx context.Context, filename string) error {
	if s.store == nil {
		return domain.ErrNoBundleStore
	}
	name, err := storage.CleanName(filename)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Info("bundle deleted", zap.String("filename", name))
	return nil
}

// LoadBundles reads and parses the named bundles in order. A missing or
// malformed file fails the whole load.
func (s *BundleService) LoadBundles(ctx context.Context, names []string) ([]*domain.Bundle, error) {
	if s.store == nil {
		return nil, domain.ErrNoBundleStore
	}
	bundles := make([]*domain.Bundle, 0, len(names))
	for _, n := range names {
		name, err := storage.CleanName(n)
		if err != nil {
			return nil, err
		}
		data, err := s.store.Read(ctx, name)
		if err != nil {
			return nil, err
		}
		b, err := corpus.ParseBundle(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}
