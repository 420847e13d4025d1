// Package task drives vSphere tasks to a terminal state. The awaiter
// polls the task object at a bounded interval until it succeeds or
// fails, or until its own timeout or the caller's context ends the
// wait. Retries are deliberately left to callers: create, clone and
// destroy are not safe to retry blindly.
package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/Bibi40k/vmware-vm-lifecycle/configs"
	"github.com/Bibi40k/vmware-vm-lifecycle/pkg/fault"
)

// Awaiter polls submitted tasks until they reach a terminal state.
type Awaiter struct {
	Poll    time.Duration // polling interval; defaults from configs
	Timeout time.Duration // overall wait limit; defaults from configs
	Logger  *slog.Logger
}

// NewAwaiter returns an awaiter with the library default poll interval
// and timeout.
func NewAwaiter(logger *slog.Logger) *Awaiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Awaiter{
		Poll:    configs.Defaults.Task.Poll(),
		Timeout: configs.Defaults.Task.Timeout(),
		Logger:  logger,
	}
}

// Await blocks until t reaches success or error. It never reports
// success while the remote state is queued or running. A failed task
// surfaces the endpoint's fault message verbatim as a remote-failure;
// exceeding the timeout yields a distinct timeout fault. Cancelling
// ctx ends the wait with the context's error.
func (a *Awaiter) Await(ctx context.Context, t *object.Task, action, target string) (*types.TaskInfo, error) {
	poll := a.Poll
	if poll <= 0 {
		poll = configs.Defaults.Task.Poll()
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = configs.Defaults.Task.Timeout()
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pc := property.DefaultCollector(t.Client())
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		var mt mo.Task
		if err := pc.RetrieveOne(waitCtx, t.Reference(), []string{"info"}, &mt); err != nil {
			if outcome := classifyWaitEnd(ctx, waitCtx, timeout, action, target); outcome != nil {
				return nil, outcome
			}
			return nil, err
		}

		info := mt.Info
		switch info.State {
		case types.TaskInfoStateSuccess:
			a.Logger.Info("Task completed", "action", action, "target", target)
			return &info, nil
		case types.TaskInfoStateError:
			detail := "task failed without fault detail"
			if info.Error != nil && info.Error.LocalizedMessage != "" {
				detail = info.Error.LocalizedMessage
			}
			a.Logger.Error("Task failed", "action", action, "target", target, "error", detail)
			return &info, fault.New(fault.RemoteFailure, action, target, "%s", detail)
		case types.TaskInfoStateQueued:
			a.Logger.Debug("Task queued", "action", action, "target", target)
		case types.TaskInfoStateRunning:
			a.Logger.Debug("Task running", "action", action, "target", target, "progress", info.Progress)
		}

		select {
		case <-waitCtx.Done():
			return nil, classifyWaitEnd(ctx, waitCtx, timeout, action, target)
		case <-ticker.C:
		}
	}
}

// classifyWaitEnd separates the awaiter's own timeout from a caller
// cancellation so a hung task is never misreported.
func classifyWaitEnd(ctx, waitCtx context.Context, timeout time.Duration, action, target string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fault.New(fault.Timeout, action, target, "task did not finish within %s", timeout)
	}
	return waitCtx.Err()
}
