package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
	"github.com/thisshopissogay/shop/internal/storage"
)

const webpContentType = "image/webp"

// ObjectStore is the subset of the storage client the pipeline needs.
type ObjectStore interface {
	Download(ctx context.Context, bucket, name string) ([]byte, error)
	Upload(ctx context.Context, bucket, name, contentType string, data []byte) error
	Remove(ctx context.Context, bucket string, names ...string) error
	List(ctx context.Context, bucket string) ([]storage.Object, error)
}

// CacheInvalidator drops cached catalog projections after image changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// Config wires a Service.
type Config struct {
	Store            ObjectStore
	Repo             Repository
	Catalog          CacheInvalidator
	OriginalBucket   string
	DerivativeBucket string
	Logger           *slog.Logger
}

// Service runs derivative generation and manual uploads.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: cfg.Logger}
}

// GenerateDerivative downloads an original and uploads its resized WebP copy.
func (s *Service) GenerateDerivative(ctx context.Context, name string) (string, error) {
	original, err := s.cfg.Store.Download(ctx, s.cfg.OriginalBucket, name)
	if err != nil {
		return "", err
	}
	out, err := Derivative(original)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	target := DerivativeName(name)
	if err := s.cfg.Store.Upload(ctx, s.cfg.DerivativeBucket, target, webpContentType, out); err != nil {
		return "", err
	}
	s.logger.Info("images derivative uploaded",
		slog.String("original", name), slog.String("derivative", target),
		slog.Int("in_bytes", len(original)), slog.Int("out_bytes", len(out)))
	return target, nil
}

// RemoveDerivative deletes the derivative of a removed original and its association rows.
func (s *Service) RemoveDerivative(ctx context.Context, name string) error {
	target := DerivativeName(name)
	if err := s.cfg.Store.Remove(ctx, s.cfg.DerivativeBucket, target); err != nil {
		return err
	}
	removed, err := s.cfg.Repo.DeleteByFilename(ctx, name)
	if err != nil {
		return err
	}
	if removed > 0 && s.cfg.Catalog != nil {
		s.cfg.Catalog.Invalidate(ctx)
	}
	s.logger.Info("images derivative removed", slog.String("derivative", target), slog.Int64("rows", removed))
	return nil
}

// RegenerateResult summarises a bulk regeneration.
type RegenerateResult struct {
	Total  int      `json:"total"`
	Failed []string `json:"failed"`
}

// RegenerateAll rebuilds the derivative of every original. Failures of single
// images are collected; the run continues until the context ends.
func (s *Service) RegenerateAll(ctx context.Context) (RegenerateResult, error) {
	objects, err := s.cfg.Store.List(ctx, s.cfg.OriginalBucket)
	if err != nil {
		return RegenerateResult{}, err
	}
	res := RegenerateResult{Failed: []string{}}
	for _, obj := range objects {
		if obj.ID == "" {
			// folder placeholder
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Total++
		if _, err := s.GenerateDerivative(ctx, obj.Name); err != nil {
			s.logger.Warn("images regenerate", slog.String("original", obj.Name), slog.Any("error", err))
			res.Failed = append(res.Failed, obj.Name)
		}
	}
	return res, nil
}

// UploadRequest describes a manual product image upload.
type UploadRequest struct {
	SKU            int64
	Data           []byte
	Global         bool
	Representative bool
	Icon           bool
}

// Upload recompresses the image under the byte budget, stores it as an original
// and records the association row.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (catalog.Image, error) {
	img, err := Decode(req.Data)
	if err != nil {
		return catalog.Image{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	out, quality, fits, err := Compress(img, UploadByteBudget)
	if err != nil {
		return catalog.Image{}, err
	}
	if !fits {
		s.logger.Warn("images upload over budget", slog.Int64("sku", req.SKU), slog.Int("bytes", len(out)))
	}
	id := uuid.New()
	name := id.String() + ".webp"
	if err := s.cfg.Store.Upload(ctx, s.cfg.OriginalBucket, name, webpContentType, out); err != nil {
		return catalog.Image{}, err
	}
	rec, err := s.cfg.Repo.InsertImage(ctx, catalog.Image{
		ID:             id.String(),
		Filename:       name,
		Global:         req.Global,
		Representative: req.Representative,
		Icon:           req.Icon,
		ProductSKU:     req.SKU,
	})
	if err != nil {
		if rmErr := s.cfg.Store.Remove(ctx, s.cfg.OriginalBucket, name); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return catalog.Image{}, err
	}
	if s.cfg.Catalog != nil {
		s.cfg.Catalog.Invalidate(ctx)
	}
	s.logger.Info("images upload stored",
		slog.Int64("sku", req.SKU), slog.String("filename", name),
		slog.Int("quality", quality), slog.Int("bytes", len(out)))
	return rec, nil
}
