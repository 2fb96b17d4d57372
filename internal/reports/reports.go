// Package reports summarises tracked time and commit activity for internal reporting.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/thisshopissogay/shop/internal/platform/db"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// Report is a persisted period summary.
type Report struct {
	ID             int64     `json:"id"`
	PeriodStart    time.Time `json:"periodStart"`
	PeriodEnd      time.Time `json:"periodEnd"`
	TrackedSeconds int64     `json:"trackedSeconds"`
	CommitCount    int       `json:"commitCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Repository persists reports.
type Repository interface {
	Insert(ctx context.Context, r Report) (Report, error)
	Recent(ctx context.Context, limit int) ([]Report, error)
}

type repository struct {
	db db.DBTX
}

// NewRepository constructs a Postgres backed Repository.
func NewRepository(conn db.DBTX) Repository {
	return &repository{db: conn}
}

func (r *repository) Insert(ctx context.Context, rep Report) (Report, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO reports (period_start, period_end, tracked_seconds, commit_count)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		rep.PeriodStart, rep.PeriodEnd, rep.TrackedSeconds, rep.CommitCount).Scan(&rep.ID, &rep.CreatedAt)
	if err != nil {
		return Report{}, fmt.Errorf("reports: insert: %w", err)
	}
	return rep, nil
}

func (r *repository) Recent(ctx context.Context, limit int) ([]Report, error) {
	rows, err := r.db.Query(ctx, `SELECT id, period_start, period_end, tracked_seconds, commit_count, created_at
		FROM reports ORDER BY period_end DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("reports: list: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Report, error) {
		var rep Report
		err := row.Scan(&rep.ID, &rep.PeriodStart, &rep.PeriodEnd, &rep.TrackedSeconds, &rep.CommitCount, &rep.CreatedAt)
		return rep, err
	})
}

// TimeSource reports tracked seconds in a window.
type TimeSource interface {
	TrackedSeconds(ctx context.Context, from, to time.Time) (int64, error)
}

// CommitSource counts commits in a window.
type CommitSource interface {
	CommitCount(ctx context.Context, from, to time.Time) (int, error)
}

// Service generates and lists reports.
type Service struct {
	repo    Repository
	time    TimeSource
	commits CommitSource
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, timeSource TimeSource, commits CommitSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, time: timeSource, commits: commits, logger: logger}
}

// Generate summarises [from, to) from both vendors and stores the result.
func (s *Service) Generate(ctx context.Context, from, to time.Time) (Report, error) {
	if !to.After(from) {
		return Report{}, fmt.Errorf("%w: period end must follow start", httpx.ErrValidation)
	}
	rep := Report{PeriodStart: from.UTC(), PeriodEnd: to.UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rep.TrackedSeconds, err = s.time.TrackedSeconds(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		rep.CommitCount, err = s.commits.CommitCount(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	saved, err := s.repo.Insert(ctx, rep)
	if err != nil {
		return Report{}, err
	}
	s.logger.Info("reports generated",
		slog.Time("from", rep.PeriodStart), slog.Time("to", rep.PeriodEnd),
		slog.Int64("tracked_seconds", rep.TrackedSeconds), slog.Int("commits", rep.CommitCount))
	return saved, nil
}

// Recent lists the latest reports.
func (s *Service) Recent(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	return s.repo.Recent(ctx, limit)
}

// PreviousDay returns the UTC day before now.
func PreviousDay(now time.Time) (time.Time, time.Time) {
	end := now.UTC().Truncate(24 * time.Hour)
	return end.AddDate(0, 0, -1), end
}
