package cache

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// Refresher periodically purges caches so renamed applications and
// services are picked up without a restart
type Refresher struct {
	logger  *zap.Logger
	cron    *cron.Cron
	purgers []Purger
}

// NewRefresher schedules a purge of every purger on spec, e.g. "@every 5m"
func NewRefresher(logger *zap.Logger, spec string, purgers ...Purger) (*Refresher, error) {
	cl := &cronLogger{logger: logger.Named("cron")}
	r := &Refresher{
		logger:  logger,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		purgers: purgers,
	}
	if _, err := r.cron.AddFunc(spec, r.Refresh); err != nil {
		return nil, fmt.Errorf("invalid cache refresh spec %q: %w", spec, err)
	}
	return r, nil
}

// Refresh purges every cache now
func (r *Refresher) Refresh() {
	for _, p := range r.purgers {
		p.Purge()
	}
	r.logger.Debug("Caches purged", zap.Int("caches", len(r.purgers)))
}

// Start runs the schedule in the background
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running purge
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}
