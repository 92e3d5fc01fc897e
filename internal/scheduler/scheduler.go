// Package scheduler arms deadline draws. Entries are durable: every
// Schedule is written to the ScheduleStore before a timer is armed, and
// Start reloads the store so deadlines survive restarts. A cron sweep
// backstops timers that were lost to a failed fire.
package scheduler

import (
	"context"
	"sync"
	"time"

	"RaffleCore/internal/observability"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DrawFunc executes the deadline draw for a listing. It must be idempotent:
// the scheduler may invoke it more than once for the same listing (timer
// plus sweep), and the engine absorbs the duplicates.
type DrawFunc func(ctx context.Context, listingID uuid.UUID) error

// Scheduler owns one armed timer per scheduled listing.
type Scheduler struct {
	store   ScheduleStore
	clock   Clock
	log     zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	timers  map[uuid.UUID]Timer
	fire    DrawFunc
	started bool
	baseCtx context.Context

	cron      *cron.Cron
	sweepSpec string
}

func New(store ScheduleStore, clock Clock, sweepSpec string, metrics *observability.Metrics, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		clock:     clock,
		log:       log,
		metrics:   metrics,
		timers:    make(map[uuid.UUID]Timer),
		sweepSpec: sweepSpec,
	}
}

// Start reloads durable entries and arms their timers. Entries whose
// deadline already passed fire immediately. Start also launches the
// backstop sweep.
func (s *Scheduler) Start(ctx context.Context, fire DrawFunc) error {
	s.mu.Lock()
	s.fire = fire
	s.baseCtx = ctx
	s.started = true
	s.mu.Unlock()

	entries, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.FireAt.After(s.clock.Now()) {
			s.log.Info().
				Str("listing_id", e.ListingID.String()).
				Time("fire_at", e.FireAt).
				Msg("deadline passed while down, firing now")
			go s.fireListing(e.ListingID, "startup")
			continue
		}
		s.arm(e.ListingID, e.FireAt)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.sweepSpec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()

	s.log.Info().Int("entries", len(entries)).Msg("scheduler started")
	return nil
}

// Schedule arms (or re-arms) the deadline draw for a listing. The durable
// entry is written first; a listing is never armed in memory only.
func (s *Scheduler) Schedule(ctx context.Context, listingID uuid.UUID, at time.Time) error {
	if err := s.store.Upsert(ctx, Entry{
		ListingID: listingID,
		FireAt:    at,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	if t, ok := s.timers[listingID]; ok {
		t.Stop()
	}
	s.armLocked(listingID, at)
	return nil
}

// Cancel disarms and forgets the listing's deadline. Cancelling a listing
// that was never scheduled is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, listingID uuid.UUID) error {
	if err := s.store.Delete(ctx, listingID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[listingID]; ok {
		t.Stop()
		delete(s.timers, listingID)
	}
	s.updateGaugeLocked()
	return nil
}

// Stop halts the sweep and disarms all timers. Durable entries stay put
// for the next Start.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.started = false
	s.updateGaugeLocked()
}

func (s *Scheduler) arm(listingID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(listingID, at)
}

func (s *Scheduler) armLocked(listingID uuid.UUID, at time.Time) {
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timers[listingID] = s.clock.AfterFunc(d, func() {
		s.fireListing(listingID, "timer")
	})
	s.updateGaugeLocked()
}

// fireListing runs the draw and, on success, retires the durable entry.
// On failure the entry stays so the sweep retries it.
func (s *Scheduler) fireListing(listingID uuid.UUID, source string) {
	s.mu.Lock()
	if t, ok := s.timers[listingID]; ok {
		t.Stop()
		delete(s.timers, listingID)
	}
	fire := s.fire
	ctx := s.baseCtx
	s.updateGaugeLocked()
	s.mu.Unlock()

	if fire == nil {
		return
	}
	s.metrics.ScheduleFires.WithLabelValues(source).Inc()

	if err := fire(ctx, listingID); err != nil {
		s.log.Warn().
			Err(err).
			Str("listing_id", listingID.String()).
			Str("source", source).
			Msg("deadline draw failed, entry kept for sweep")
		return
	}
	if err := s.store.Delete(ctx, listingID); err != nil {
		s.log.Warn().
			Err(err).
			Str("listing_id", listingID.String()).
			Msg("failed to retire schedule entry")
	}
}

// sweep catches entries that are due but have no armed timer: a fire that
// failed, or a timer lost to a race with Stop.
func (s *Scheduler) sweep() {
	s.metrics.ScheduleSweeps.Inc()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	entries, err := s.store.List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("sweep list failed")
		return
	}

	now := s.clock.Now()
	for _, e := range entries {
		s.mu.Lock()
		_, armed := s.timers[e.ListingID]
		s.mu.Unlock()
		if armed {
			continue
		}
		if e.FireAt.After(now) {
			// Future entry with no timer: re-arm it.
			s.arm(e.ListingID, e.FireAt)
			continue
		}
		s.fireListing(e.ListingID, "sweep")
	}
}

func (s *Scheduler) updateGaugeLocked() {
	s.metrics.ScheduleEntries.Set(float64(len(s.timers)))
}
