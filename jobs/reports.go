package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/thisshopissogay/shop/internal/jobs"
	"github.com/thisshopissogay/shop/internal/reports"
)

// ReportGenerator produces an activity report for a window.
type ReportGenerator interface {
	Generate(ctx context.Context, from, to time.Time) (reports.Report, error)
}

// ReportJob generates the report for the previous UTC day.
type ReportJob struct {
	Service ReportGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReportJob constructs the report job handler.
func NewReportJob(service ReportGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportJob {
	return &ReportJob{Service: service, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle executes the report job.
func (j *ReportJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("report generate: service not configured")
	}
	tracker := j.Metrics.Track(TaskReportGenerate)
	defer func() { err = tracker.End(err) }()

	from, to := reports.PreviousDay(j.now())
	rep, err := j.Service.Generate(ctx, from, to)
	if err != nil {
		j.log().Error("report generate", slog.Time("from", from), slog.Any("error", err))
		return err
	}
	j.log().Info("report generated",
		slog.Int64("id", rep.ID),
		slog.Time("from", from),
		slog.Int64("tracked_seconds", rep.TrackedSeconds),
		slog.Int("commits", rep.CommitCount))
	return nil
}

func (j *ReportJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}

func (j *ReportJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
