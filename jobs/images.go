package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/thisshopissogay/shop/internal/images"
	jobmetrics "github.com/thisshopissogay/shop/internal/jobs"
)

// DerivativeService is the image pipeline used by the image jobs.
type DerivativeService interface {
	GenerateDerivative(ctx context.Context, name string) (string, error)
	RegenerateAll(ctx context.Context) (images.RegenerateResult, error)
}

// ImageJob processes derivative and regeneration tasks.
type ImageJob struct {
	Service DerivativeService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewImageJob constructs the image job handlers.
func NewImageJob(service DerivativeService, logger *slog.Logger, metrics *jobmetrics.Metrics) *ImageJob {
	return &ImageJob{Service: service, Logger: logger, Metrics: metrics}
}

// HandleDerivative builds the derivative named in the task payload.
func (j *ImageJob) HandleDerivative(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("image derivative: service not configured")
	}
	var payload ImageDerivativePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.Name == "" {
		return fmt.Errorf("image derivative: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskImageDerivative)
	defer func() { err = tracker.End(err) }()

	out, err := j.Service.GenerateDerivative(ctx, payload.Name)
	if err != nil {
		if errors.Is(err, images.ErrDecode) {
			j.log().Warn("image derivative undecodable", slog.String("name", payload.Name), slog.Any("error", err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		j.log().Error("image derivative", slog.String("name", payload.Name), slog.Any("error", err))
		return err
	}
	j.log().Info("image derivative stored", slog.String("name", payload.Name), slog.String("derivative", out))
	return nil
}

// HandleRegenerate rebuilds every derivative. Per-image failures are logged and
// counted but do not fail the task.
func (j *ImageJob) HandleRegenerate(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("image regenerate: service not configured")
	}
	tracker := j.Metrics.Track(TaskImagesRegenerate)
	defer func() { err = tracker.End(err) }()

	result, err := j.Service.RegenerateAll(ctx)
	if err != nil {
		j.log().Error("image regenerate", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskImagesRegenerate, "processed", result.Total-len(result.Failed))
	j.Metrics.AddItems(TaskImagesRegenerate, "failed", len(result.Failed))
	j.log().Info("image regenerate finished",
		slog.Int("total", result.Total),
		slog.Int("failed", len(result.Failed)),
		slog.Any("failed_names", result.Failed))
	return nil
}

func (j *ImageJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
