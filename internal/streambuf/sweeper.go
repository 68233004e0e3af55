package streambuf

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically expires abandoned stream entries.
type Sweeper struct {
	logger *slog.Logger
	store  Store
	ttl    time.Duration
	cron   *cron.Cron
}

// NewSweeper creates a sweeper that drops entries older than ttl.
func NewSweeper(log *slog.Logger, store Store, ttl time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Sweeper{
		logger: log.With(slog.String("component", "streambuf_sweeper")),
		store:  store,
		ttl:    ttl,
		cron:   cron.New(),
	}
}

// Start schedules the sweep once a minute.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc("@every 1m", func() {
		if removed := s.store.Cleanup(s.ttl); removed > 0 {
			s.logger.Debug("expired stream entries", slog.Int("removed", removed))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the sweep schedule.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}
