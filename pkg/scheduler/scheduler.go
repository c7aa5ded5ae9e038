package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/richard-senior/podds/internal/logger"
)

// Scheduler runs the calibration job on a cron schedule (six fields, seconds first)
type Scheduler struct {
	cron    *cron.Cron
	job     *CalibrationJob
	timeout time.Duration
}

// New registers job under spec
func New(job *CalibrationJob, spec string) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		job:     job,
		timeout: 10 * time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.calibrate); err != nil {
		return nil, fmt.Errorf("register calibration task: %w", err)
	}
	return s, nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("Scheduler started, next calibration at", s.Next())
}

// Stop stops the scheduler and waits for a running calibration to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Scheduler stopped")
}

// Next returns when the calibration will next run, zero before Start
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) calibrate() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	results, err := s.job.Run(ctx)
	if err != nil {
		logger.Error("Scheduled calibration finished with errors", err)
	}
	applied := 0
	for _, r := range results {
		applied += len(r.Applied)
	}
	logger.Info("Scheduled calibration done", len(results), "leagues", applied, "changes")
}
