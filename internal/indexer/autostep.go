package indexer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
)

// Stepper is the part of Builder a scheduler drives.
type Stepper interface {
	Status(ctx context.Context) (*State, Progress, error)
	Step(ctx context.Context, state *State) (*State, Progress, error)
}

// AutoStep advances a running build by one Step every interval until ctx
// ends. It never starts a build: with no build in progress a tick is a
// no-op. Failed steps are logged and retried on the next tick.
func AutoStep(ctx context.Context, b Stepper, interval time.Duration) {
	log := slog.Default().With("component", "index-autostep")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		progress, stepped, err := stepRunning(ctx, b)
		switch {
		case err == nil && stepped:
			log.Info("build advanced", "phase", progress.Phase, "percent", progress.Percent, "done", progress.Done)
		case errors.Is(err, apperrors.ErrBuildInProgress):
			// Another scheduler stepped first; pick up its state next tick.
			log.Debug("build state moved underneath us", "error", err)
		case err != nil && ctx.Err() == nil:
			log.Warn("build step failed", "error", err, "retryable", apperrors.Retryable(err))
		}
	}
}

// stepRunning performs one Step if a build is in progress.
func stepRunning(ctx context.Context, b Stepper) (Progress, bool, error) {
	state, _, err := b.Status(ctx)
	if err != nil {
		return Progress{}, false, err
	}
	if state == nil || state.Phase == PhaseDone {
		return Progress{}, false, nil
	}
	_, progress, err := b.Step(ctx, state)
	if err != nil {
		return progress, false, err
	}
	return progress, true, nil
}
