package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is one periodic background task
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler runs background jobs until Shutdown
type Scheduler struct {
	sched gocron.Scheduler
}

// Start registers jobs and starts running them. Each job runs once immediately and a slow
// run is never overlapped by the next tick.
func Start(ctx context.Context, jobs ...Job) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	for _, j := range jobs {
		if j.Every <= 0 {
			log.Printf("[SCHEDULER] Job %s has no interval, skipping", j.Name)
			continue
		}
		job := j
		_, err := sched.NewJob(
			gocron.DurationJob(job.Every),
			gocron.NewTask(func() {
				if err := job.Run(ctx); err != nil {
					log.Printf("[SCHEDULER] Job %s failed: %v", job.Name, err)
				}
			}),
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			sched.Shutdown()
			return nil, fmt.Errorf("failed to register job %s: %w", job.Name, err)
		}
		log.Printf("[SCHEDULER] Job %s registered (every %v)", job.Name, job.Every)
	}

	sched.Start()
	return &Scheduler{sched: sched}, nil
}

// Shutdown stops the scheduler and waits for running jobs
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
