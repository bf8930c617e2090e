package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantari/tradecore/internal/domain"
)

// ArchiveService periodically moves settled history past the retention
// window into cold storage, then prunes the archived rows from the primary
// store. Rows are deleted only after their upload succeeded; an upload
// failure leaves everything in place for the next cycle.
type ArchiveService struct {
	archiver  domain.Archiver
	orders    domain.OrderStore
	positions domain.PositionStore
	audit     domain.AuditStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewArchiveService creates an ArchiveService with all required
// dependencies.
func NewArchiveService(
	archiver domain.Archiver,
	orders domain.OrderStore,
	positions domain.PositionStore,
	audit domain.AuditStore,
	retention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *ArchiveService {
	return &ArchiveService{
		archiver:  archiver,
		orders:    orders,
		positions: positions,
		audit:     audit,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes an archive cycle immediately and then on every interval
// tick until the context ends. A failed cycle is logged and retried on the
// next tick.
func (s *ArchiveService) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.ErrorContext(ctx, "archive_service: cycle failed",
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive_service: cycle failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce archives and prunes orders, positions, and audit entries older
// than the retention cutoff.
func (s *ArchiveService) RunOnce(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.retention)

	archivedOrders, err := s.archiveOrders(ctx, cutoff)
	if err != nil {
		return err
	}
	archivedPositions, err := s.archivePositions(ctx, cutoff)
	if err != nil {
		return err
	}
	archivedAudit, err := s.archiveAudit(ctx, cutoff)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "archive_service: cycle complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("orders", archivedOrders),
		slog.Int64("positions", archivedPositions),
		slog.Int64("audit_entries", archivedAudit),
	)
	return nil
}

func (s *ArchiveService) archiveOrders(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.archiver.ArchiveOrders(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive_service: archive orders: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	deleted, err := s.orders.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return count, fmt.Errorf("archive_service: prune orders: %w", err)
	}
	s.logger.InfoContext(ctx, "archive_service: orders archived",
		slog.Int64("archived", count),
		slog.Int64("deleted", deleted),
	)
	return count, nil
}

func (s *ArchiveService) archivePositions(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.archiver.ArchivePositions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive_service: archive positions: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	deleted, err := s.positions.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		return count, fmt.Errorf("archive_service: prune positions: %w", err)
	}
	s.logger.InfoContext(ctx, "archive_service: positions archived",
		slog.Int64("archived", count),
		slog.Int64("deleted", deleted),
	)
	return count, nil
}

func (s *ArchiveService) archiveAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive_service: archive audit log: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	deleted, err := s.audit.DeleteBefore(ctx, cutoff)
	if err != nil {
		return count, fmt.Errorf("archive_service: prune audit log: %w", err)
	}
	s.logger.InfoContext(ctx, "archive_service: audit log archived",
		slog.Int64("archived", count),
		slog.Int64("deleted", deleted),
	)
	return count, nil
}
