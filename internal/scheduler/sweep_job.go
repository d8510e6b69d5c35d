package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/sentiq/sentiq/internal/cache"
	"github.com/sentiq/sentiq/internal/events"
)

// CacheSweepJob evicts expired entries from the in-memory cache.
type CacheSweepJob struct {
	store *cache.Store
	bus   *events.Bus
	log   zerolog.Logger
}

func NewCacheSweepJob(store *cache.Store, bus *events.Bus, log zerolog.Logger) *CacheSweepJob {
	return &CacheSweepJob{
		store: store,
		bus:   bus,
		log:   log.With().Str("component", "cache_sweep").Logger(),
	}
}

func (j *CacheSweepJob) Name() string { return "cache_sweep" }

func (j *CacheSweepJob) Run() error {
	removed := j.store.Sweep()
	if removed > 0 {
		j.log.Debug().Int("removed", removed).Msg("Swept expired cache entries")
	}
	if j.bus != nil {
		j.bus.PublishData(&events.CacheSweptData{Removed: removed, Remaining: j.store.Len()})
	}
	return nil
}
