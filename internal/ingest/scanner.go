package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/store"
)

// ScannerConfig holds the reconciliation scanner's tuning knobs.
type ScannerConfig struct {
	// Interval is how often a scan runs after the startup gap-fill.
	Interval time.Duration

	// InitialLookback bounds the first scan when no checkpoint exists,
	// so a fresh deployment does not walk the source's entire history.
	InitialLookback time.Duration

	// SafetyMargin is subtracted from the checkpoint on every scan so
	// events committed slightly out of order are still observed. The
	// dedup gate absorbs the resulting re-reads.
	SafetyMargin time.Duration
}

// DefaultScannerConfig returns the standard scanner configuration.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Interval:        15 * time.Minute,
		InitialLookback: 24 * time.Hour,
		SafetyMargin:    5 * time.Minute,
	}
}

// withDefaults fills in zero-valued fields.
func (c ScannerConfig) withDefaults() ScannerConfig {
	d := DefaultScannerConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.InitialLookback <= 0 {
		c.InitialLookback = d.InitialLookback
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = d.SafetyMargin
	}
	return c
}

// Scanner is the pull side of ingestion: it periodically lists events
// from the external source and feeds them through the ingestor, picking
// up anything the push path dropped. The checkpoint is advisory; the
// dedup gate is what makes overlap between scans and webhook deliveries
// harmless.
type Scanner struct {
	cfg      ScannerConfig
	source   EventSource
	ingestor *Ingestor
	events   store.EventStore
	logger   *slog.Logger

	// lastSeen is the in-process checkpoint, advanced past each scan's
	// newest event. The persisted fallback is the events table's latest
	// processed_at.
	lastSeen time.Time
}

// NewScanner creates a reconciliation scanner.
func NewScanner(cfg ScannerConfig, source EventSource, ingestor *Ingestor, events store.EventStore, log *slog.Logger) *Scanner {
	return &Scanner{
		cfg:      cfg.withDefaults(),
		source:   source,
		ingestor: ingestor,
		events:   events,
		logger:   log,
	}
}

// Start runs an immediate gap-fill scan, then scans on the configured
// interval until the context is cancelled.
func (s *Scanner) Start(ctx context.Context) {
	s.logger.Info("reconciliation scanner starting",
		"interval", s.cfg.Interval.String(),
		"initial_lookback", s.cfg.InitialLookback.String(),
		"safety_margin", s.cfg.SafetyMargin.String())

	if err := s.ScanOnce(ctx); err != nil {
		s.logger.Error("startup reconciliation scan failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scanner stopping")
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("reconciliation scan failed", "error", err)
			}
		}
	}
}

// ScanOnce lists every event since the checkpoint and ingests each one.
// A failure on one event aborts the scan; the untouched remainder is
// picked up by the next run from the same checkpoint.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	since, err := s.checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve scan checkpoint: %w", err)
	}

	log := s.logger.With("since", since.Format(time.RFC3339))
	log.Debug("reconciliation scan starting")

	var (
		scanned    int
		created    int
		duplicates int
		skipped    int
		newest     time.Time
		pageToken  string
	)

	for {
		events, nextPage, err := s.source.ListEventsSince(ctx, since, pageToken)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		for _, ev := range events {
			decision, err := s.ingestor.IngestEvent(ctx, ev.ExternalID, ev.Payload, domain.EventSourceScan)
			if err != nil {
				return fmt.Errorf("failed to ingest event %s: %w", ev.ExternalID, err)
			}

			scanned++
			switch decision {
			case DecisionCreated:
				created++
			case DecisionDuplicate:
				duplicates++
			case DecisionSkipped:
				skipped++
			}

			if ev.Timestamp.After(newest) {
				newest = ev.Timestamp
			}
		}

		if nextPage == "" {
			break
		}
		pageToken = nextPage
	}

	if newest.After(s.lastSeen) {
		s.lastSeen = newest
	}

	log.Info("reconciliation scan complete",
		"scanned", scanned,
		"created", created,
		"duplicates", duplicates,
		"skipped", skipped)
	return nil
}

// checkpoint resolves the time to scan from: the in-process mark, then
// the latest persisted event, then the cold-start lookback. The safety
// margin is applied to all but the cold-start case.
func (s *Scanner) checkpoint(ctx context.Context) (time.Time, error) {
	if !s.lastSeen.IsZero() {
		return s.lastSeen.Add(-s.cfg.SafetyMargin), nil
	}

	latest, err := s.events.LatestProcessedAt(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !latest.IsZero() {
		return latest.Add(-s.cfg.SafetyMargin), nil
	}

	return time.Now().UTC().Add(-s.cfg.InitialLookback), nil
}
