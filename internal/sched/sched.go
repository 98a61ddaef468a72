// Package sched triggers the proactive jobs on their cron schedule. The
// jobs are plain funcs injected by the entry point, so an external cron
// calling the same entry points would behave identically.
package sched

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled entry point.
type Job func(context.Context) error

// Options carry the cron specs and the jobs they trigger.
type Options struct {
	Location *time.Location // defaults to UTC

	// DailySpec triggers Daily, the digest-then-cleanup sequence.
	DailySpec string
	Daily     Job

	// HourlySpec triggers Hourly, the digest alone.
	HourlySpec string
	Hourly     Job
}

// Scheduler owns the embedded cron runner.
type Scheduler struct {
	opts Options
	cron *cron.Cron
}

// New prepares a scheduler; Start registers and begins triggering.
func New(opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{opts: opts}
}

// Start registers both jobs and begins triggering them. The given context
// flows into every run.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.opts.Daily == nil || s.opts.Hourly == nil {
		return fmt.Errorf("daily and hourly jobs are required")
	}

	c := cron.New(cron.WithLocation(s.opts.Location))
	if _, err := c.AddFunc(s.opts.DailySpec, s.wrap(ctx, "daily", s.opts.Daily)); err != nil {
		return fmt.Errorf("register daily job %q: %w", s.opts.DailySpec, err)
	}
	if _, err := c.AddFunc(s.opts.HourlySpec, s.wrap(ctx, "hourly", s.opts.Hourly)); err != nil {
		return fmt.Errorf("register hourly job %q: %w", s.opts.HourlySpec, err)
	}

	s.cron = c
	c.Start()
	log.Printf("[Sched] daily %q, hourly %q in %s", s.opts.DailySpec, s.opts.HourlySpec, s.opts.Location)
	return nil
}

// Stop halts triggering and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// wrap adapts a Job to the cron runner: a failure is logged, never fatal.
func (s *Scheduler) wrap(ctx context.Context, name string, job Job) func() {
	return func() {
		started := time.Now()
		if err := job(ctx); err != nil {
			log.Printf("[Sched] %s job failed after %s: %v", name, time.Since(started).Round(time.Millisecond), err)
			return
		}
		log.Printf("[Sched] %s job finished in %s", name, time.Since(started).Round(time.Millisecond))
	}
}
