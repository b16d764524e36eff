// Package worker schedules the expiration sweep as a periodic asynq job.
// The sweep itself lives in the service layer and stays callable
// synchronously; this package only decides when it runs.
package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/service"
)

// TypeExpirationSweep is the asynq task type for a sweep pass.
const TypeExpirationSweep = "waitlist:sweep"

// DefaultSweepCron fires a sweep every 2 minutes.
const DefaultSweepCron = "*/2 * * * *"

// Worker runs the asynq server and cron scheduler for background jobs.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *logrus.Logger
}

// New builds a Worker wired to the sweeper. cronSpec falls back to
// DefaultSweepCron when empty.
func New(redisOpt asynq.RedisClientOpt, sweeper *service.Sweeper, logger *logrus.Logger, cronSpec string) (*Worker, error) {
	if cronSpec == "" {
		cronSpec = DefaultSweepCron
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"default": 1,
		},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExpirationSweep, func(ctx context.Context, t *asynq.Task) error {
		res, err := sweeper.Run(ctx)
		if err != nil {
			return err
		}
		logger.WithField("cleaned", res.CleanedCount).Debug("scheduled sweep pass finished")
		return nil
	})

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register(cronSpec, asynq.NewTask(TypeExpirationSweep, nil)); err != nil {
		return nil, err
	}

	return &Worker{server: srv, scheduler: scheduler, mux: mux, logger: logger}, nil
}

// Start runs the server and scheduler in background goroutines.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	if err := w.scheduler.Start(); err != nil {
		w.server.Shutdown()
		return err
	}
	return nil
}

// Shutdown stops the scheduler first so no new sweeps enqueue, then
// drains the server.
func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}
