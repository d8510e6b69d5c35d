package research

import (
	"github.com/rs/zerolog"

	"github.com/sentiq/sentiq/internal/events"
)

// CleanupJob removes expired research data rows and flips overdue
// sessions to expired. Scheduled daily.
type CleanupJob struct {
	sessions *SessionRepository
	data     *DataRepository
	bus      *events.Bus
	log      zerolog.Logger
}

// NewCleanupJob creates the research cleanup job.
func NewCleanupJob(sessions *SessionRepository, data *DataRepository, bus *events.Bus, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		data:     data,
		bus:      bus,
		log:      log.With().Str("job", "research_cleanup").Logger(),
	}
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "research_cleanup"
}

// Run deletes expired data rows and expires overdue sessions.
func (j *CleanupJob) Run() error {
	deleted, err := j.data.DeleteExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired research data")
		return err
	}

	expired, err := j.sessions.ExpireStale()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to expire stale sessions")
		return err
	}
	for i := range expired {
		j.bus.PublishData(&events.SessionExpiredData{
			SessionID: expired[i].SessionID,
			UserID:    expired[i].UserID,
			Component: expired[i].Component,
		})
	}

	if deleted > 0 || len(expired) > 0 {
		j.log.Info().
			Int64("data_rows_deleted", deleted).
			Int("sessions_expired", len(expired)).
			Msg("Research cleanup completed")
	}
	return nil
}
