// Package monitor runs the single consumer of bridge requests: it owns all
// VM state, so no locking is needed around it.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/javanstorm/vmmctl/internal/bridge"
	"github.com/javanstorm/vmmctl/internal/channel"
)

// Exit codes returned by Run.
const (
	ExitOK             = 0
	ExitResponseFailed = 1
	ExitSignalFailed   = 2
)

// Loop is the monitor event loop.
type Loop struct {
	Logger *slog.Logger
}

// Run serves side with a default Loop until the request channel is closed.
func Run(exec Executor, side *bridge.MonitorSide) int {
	return (&Loop{}).Run(exec, side)
}

// Run waits for wakeups and answers every queued request in FIFO order. It
// returns when the controller closes the request channel, when the response
// channel is gone, or when waiting fails. On return the monitor's channel
// halves and signal are closed and exec is shut down.
func (l *Loop) Run(exec Executor, side *bridge.MonitorSide) int {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger.Debug("monitor loop started")
	code := l.serve(logger, exec, side)

	side.Responses.Close()
	side.Requests.Close()
	if err := side.Signal.Close(); err != nil {
		logger.Warn("failed to close wakeup signal", "error", err)
	}
	if err := exec.Shutdown(context.Background()); err != nil {
		logger.Warn("vmm shutdown failed", "error", err)
	}

	logger.Debug("monitor loop exited", "code", code)
	return code
}

func (l *Loop) serve(logger *slog.Logger, exec Executor, side *bridge.MonitorSide) int {
	ctx := context.Background()
	for {
		if err := side.Signal.Wait(); err != nil {
			logger.Error("wait for wakeup failed", "error", err)
			return ExitSignalFailed
		}

		// One wakeup may stand for several requests, or none.
		for {
			req, err := side.Requests.TryRecv()
			if errors.Is(err, channel.ErrEmpty) {
				break
			}
			if err != nil {
				logger.Info("request channel closed, stopping monitor")
				return ExitOK
			}

			out := exec.Execute(ctx, req.Action)
			if out.Err != nil {
				logger.Warn("vmm action rejected",
					"action", req.Action.Kind(), "request_id", req.ID, "error", out.Err)
			}

			if err := side.Responses.Send(bridge.Response{ID: req.ID, Outcome: out}); err != nil {
				logger.Error("response channel closed, stopping monitor",
					"request_id", req.ID, "error", err)
				return ExitResponseFailed
			}
		}
	}
}
