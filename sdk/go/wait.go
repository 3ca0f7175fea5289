package sdk

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned when a run is still processing after MaxDuration.
var ErrPollTimeout = errors.New("run still processing after max poll duration")

// PollPolicy backs off geometrically from Interval up to MaxInterval.
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	MaxDuration time.Duration
}

var DefaultPollPolicy = PollPolicy{
	Interval:    2 * time.Second,
	MaxInterval: 15 * time.Second,
	Multiplier:  1.5,
	MaxDuration: 10 * time.Minute,
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultPollPolicy.Interval
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDuration <= 0 {
		p.MaxDuration = DefaultPollPolicy.MaxDuration
	}
	return p
}

// WaitForRun polls GET /analysis/runs/{id} until the run is completed or failed.
func (c *Client) WaitForRun(ctx context.Context, runID string, policy PollPolicy) (Run, error) {
	policy = policy.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, policy.MaxDuration)
	defer cancel()

	delay := policy.Interval
	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return run, ErrPollTimeout
			}
			return run, err
		}
		if run.Terminal() {
			return run, nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return run, ErrPollTimeout
			}
			return run, ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxInterval {
			delay = policy.MaxInterval
		}
	}
}
