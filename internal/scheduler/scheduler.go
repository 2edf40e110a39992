// Package scheduler triggers the download and conversion queues. Cron ticks
// enqueue queue checks; each task schedules the next record itself.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/segmentarr/internal/queue"
)

// Scheduler registers the periodic queue checks.
type Scheduler struct {
	mu sync.Mutex

	dispatcher Dispatcher
	logger     *slog.Logger

	parser cron.Parser
	cron   *cron.Cron
	config SchedulerConfig
	checks map[cron.EntryID]Entry
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// CheckQueueCron triggers the conversion queue check.
	// Default: every 5 minutes
	CheckQueueCron string

	// CheckDownloadsCron triggers the download queue check.
	// Default: every 5 minutes
	CheckDownloadsCron string

	// DisableAutoConversion leaves the conversion check unregistered;
	// conversions then only start when enqueued explicitly.
	DisableAutoConversion bool
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CheckQueueCron:     "*/5 * * * *",
		CheckDownloadsCron: "*/5 * * * *",
	}
}

// NewScheduler creates a new scheduler dispatching to d.
func NewScheduler(d Dispatcher) *Scheduler {
	return &Scheduler{
		dispatcher: d,
		logger:     slog.Default(),
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		config:     DefaultSchedulerConfig(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithConfig applies configuration to the scheduler.
func (s *Scheduler) WithConfig(config SchedulerConfig) *Scheduler {
	if config.CheckQueueCron != "" {
		s.config.CheckQueueCron = config.CheckQueueCron
	}
	if config.CheckDownloadsCron != "" {
		s.config.CheckDownloadsCron = config.CheckDownloadsCron
	}
	s.config.DisableAutoConversion = config.DisableAutoConversion
	return s
}

// Start registers the checks and starts ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLogger(cronLogger{s.logger}))
	s.checks = make(map[cron.EntryID]Entry)
	if !s.config.DisableAutoConversion {
		if err := s.register(c, s.config.CheckQueueCron, queue.KindConversion); err != nil {
			return err
		}
	} else {
		s.logger.Info("automatic conversion disabled, check_queue not registered")
	}
	if err := s.register(c, s.config.CheckDownloadsCron, queue.KindDownload); err != nil {
		return err
	}

	c.Start()
	s.cron = c

	s.logger.Info("scheduler started",
		slog.String("check_queue", s.config.CheckQueueCron),
		slog.String("check_downloads", s.config.CheckDownloadsCron),
		slog.Bool("auto_conversion", !s.config.DisableAutoConversion))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) register(c *cron.Cron, spec string, kind queue.Kind) error {
	id, err := c.AddFunc(spec, func() {
		s.dispatcher.Dispatch(Job{Kind: kind})
	})
	if err != nil {
		return fmt.Errorf("registering %s check %q: %w", kind, spec, err)
	}
	s.checks[id] = Entry{Kind: kind, Spec: spec}
	return nil
}

// Stop stops the ticks. Jobs already dispatched are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Entries lists the registered checks with their next run.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	var out []Entry
	for _, e := range s.cron.Entries() {
		entry := s.checks[e.ID]
		entry.Next = e.Next
		entry.Prev = e.Prev
		out = append(out, entry)
	}
	return out
}

// Entry is a registered check.
type Entry struct {
	Kind queue.Kind `json:"kind"`
	Spec string     `json:"spec"`
	Next time.Time  `json:"next"`
	Prev time.Time  `json:"prev"`
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
