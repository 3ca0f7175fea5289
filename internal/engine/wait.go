package engine

import (
	"context"
	"errors"
	"time"

	"freshcheck/internal/config"
	"freshcheck/internal/domain"
)

// ErrPollTimeout is returned when a run is still processing after MaxDuration.
var ErrPollTimeout = errors.New("run did not finish before poll timeout")

// PollPolicy controls WaitForRun. Zero fields take DefaultPollPolicy values.
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

// PollPolicyFromConfig reads the polling section of the config.
func PollPolicyFromConfig(p config.PollingConfig) PollPolicy {
	return PollPolicy{
		Interval:    p.Interval,
		MaxInterval: p.MaxInterval,
		Multiplier:  p.Multiplier,
		MaxDuration: p.MaxDuration,
	}.withDefaults()
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

// Next returns the delay that follows d.
func (p PollPolicy) Next(d time.Duration) time.Duration {
	p = p.withDefaults()
	next := time.Duration(float64(d) * p.Multiplier)
	if next > p.MaxInterval {
		next = p.MaxInterval
	}
	if next < p.Interval {
		next = p.Interval
	}
	return next
}

// WaitForRun polls until the run reaches a terminal status.
func (e Engine) WaitForRun(ctx context.Context, userID, runID string, policy PollPolicy) (domain.AnalysisRun, error) {
	policy = policy.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, policy.MaxDuration)
	defer cancel()

	delay := policy.Interval
	for {
		run, err := e.GetRun(ctx, userID, runID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return domain.AnalysisRun{}, ErrPollTimeout
			}
			return domain.AnalysisRun{}, err
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
		delay = policy.Next(delay)
	}
}
