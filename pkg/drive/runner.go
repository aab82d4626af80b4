package drive

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fleet-coverage-scheduler/pkg/sched"
)

// Run statuses reported in Result.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// Result summarises a headless mission run.
type Result struct {
	Status        string `json:"status"`
	Error         string `json:"error"`
	Ticks         int    `json:"ticks"`
	LogsDir       string `json:"logs_dir"`
	InitialFaults int    `json:"initial_faults"`
}

// Runner drives a scheduler for a fixed number of ticks against a failure
// timeline. The context carries the caller's wall-clock policy; the core
// itself never blocks.
type Runner struct {
	sched    *sched.Scheduler
	timeline *FailureTimeline
	log      *zap.Logger

	// Publish, when set, receives the scheduler snapshot after every tick
	// so HTTP observers can serve it without touching the scheduler.
	Publish func(sched.Snapshot)

	// SummaryEvery, when positive, rewrites the summary sink every N
	// ticks so a crash mid-run still leaves a recent snapshot on disk.
	SummaryEvery int
}

// NewRunner wires a scheduler to its liveness source.
func NewRunner(scheduler *sched.Scheduler, timeline *FailureTimeline, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{sched: scheduler, timeline: timeline, log: logger}
}

// Run executes up to ticks scheduler ticks. A MissionFailure stops the run
// and is reported in the result rather than returned: the failure is an
// expected outcome of a fault sweep, not a driver malfunction. Any other
// scheduling error, or context cancellation, is returned.
func (r *Runner) Run(ctx context.Context, ticks int) (Result, error) {
	result := Result{Status: StatusPass, Ticks: ticks}

	for i := 0; i < ticks; i++ {
		err := ctx.Err()
		if err != nil {
			return result, fmt.Errorf("run cancelled at tick %d: %w", r.sched.Tick(), err)
		}

		r.timeline.Apply(r.sched.TimeMS(r.sched.Tick()))

		_, err = r.sched.ScheduleTick(r.timeline.Status())
		if err != nil {
			var failure *sched.MissionFailure
			if errors.As(err, &failure) {
				result.Status = StatusFail
				result.Error = failure.Error()
				result.Ticks = r.sched.Tick()

				r.log.Warn("mission run failed",
					zap.Int("tick", failure.Tick),
					zap.String("reason", failure.Reason),
					zap.String("domain", failure.Domain),
				)

				if r.Publish != nil {
					r.Publish(r.sched.SnapshotState())
				}

				return result, nil
			}

			return result, fmt.Errorf("schedule tick %d: %w", r.sched.Tick(), err)
		}

		if r.Publish != nil {
			r.Publish(r.sched.SnapshotState())
		}

		if r.SummaryEvery > 0 && r.sched.Tick()%r.SummaryEvery == 0 {
			r.sched.WriteSummary()
		}
	}

	r.log.Info("mission run complete", zap.Int("ticks", r.sched.Tick()))

	return result, nil
}
