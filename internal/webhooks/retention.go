package webhooks

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/storely/storefront-api/internal/idempotency"
	"gorm.io/gorm"
)

// EventRetention is how long processed webhook events are kept before the
// sweeper reclaims them.
const EventRetention = 30 * 24 * time.Hour

// Sweeper reclaims expired idempotency records and aged webhook events on
// a fixed interval.
type Sweeper struct {
	events      *Database
	idempotency *idempotency.Database
	interval    time.Duration
	retention   time.Duration
}

func NewSweeper(gormDB *gorm.DB) *Sweeper {
	return &Sweeper{
		events:      NewDatabase(gormDB),
		idempotency: idempotency.NewDatabase(gormDB),
		interval:    time.Hour,
		retention:   EventRetention,
	}
}

// Start begins the retention sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "retention_sweeper").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting retention sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down retention sweeper")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	logger := log.With().Str("component", "retention_sweeper").Logger()
	now := time.Now()

	reclaimed, err := s.idempotency.DeleteExpired(now)
	if err != nil {
		logger.Error().Err(err).Msg("failed to reclaim expired idempotency records")
	} else if reclaimed > 0 {
		logger.Info().Int64("reclaimed", reclaimed).Msg("reclaimed expired idempotency records")
	}

	purged, err := s.events.DeleteEventsBefore(now.Add(-s.retention))
	if err != nil {
		logger.Error().Err(err).Msg("failed to purge aged webhook events")
	} else if purged > 0 {
		logger.Info().Int64("purged", purged).Msg("purged aged webhook events")
	}
}
