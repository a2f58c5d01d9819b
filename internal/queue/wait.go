package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/scenecrew/internal/bus"
	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/safety"
)

// Outcome is the result of one execute-and-wait cycle.
type Outcome struct {
	CommandID string                    `json:"command_id,omitempty"`
	Status    persistence.CommandStatus `json:"status,omitempty"`
	Result    string                    `json:"result,omitempty"`
	Error     string                    `json:"error,omitempty"`
	TimedOut  bool                      `json:"timed_out,omitempty"`
	Rejected  bool                      `json:"rejected,omitempty"`

	// ScreenshotURL is set when the relay found a saved screenshot.
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}

// Succeeded reports whether the engine ran the script without error.
func (o Outcome) Succeeded() bool { return o.Status == persistence.CommandSuccess }

// Wait blocks until the command is terminal, the poll budget runs out, or
// ctx is done. The store is re-read on every tick; bus events only wake the
// loop early. On exhaustion the last observed command is returned with
// ErrPollTimeout.
func (q *Queue) Wait(ctx context.Context, commandID string) (*persistence.ExecutionCommand, error) {
	// Subscribe before the first read so a fast relay is not missed.
	var sub *bus.Subscription
	if q.bus != nil {
		sub = q.bus.Subscribe("command.")
		defer q.bus.Unsubscribe(sub)
	}

	started := time.Now()
	cmd, err := q.PollStatus(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.Status.Terminal() {
		return cmd, nil
	}

	interval, attempts := q.polling()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events <-chan bus.Event
	if sub != nil {
		events = sub.Ch()
	}

	for tick := 0; tick < attempts; {
		select {
		case <-ctx.Done():
			return cmd, ctx.Err()
		case <-ticker.C:
			tick++
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !isEventForCommand(ev, commandID) {
				continue
			}
		}
		cmd, err = q.PollStatus(ctx, commandID)
		if err != nil {
			return nil, err
		}
		if cmd.Status.Terminal() {
			q.metrics.CommandWait.Record(ctx, time.Since(started).Seconds(),
				metric.WithAttributes(otelPkg.AttrStatus.String(string(cmd.Status))))
			return cmd, nil
		}
	}

	q.metrics.PollTimeouts.Add(ctx, 1)
	q.logger.Warn("poll budget exhausted", "command_id", commandID, "attempts", attempts, "status", cmd.Status)
	return cmd, fmt.Errorf("command %s after %d polls: %w", commandID, attempts, ErrPollTimeout)
}

func isEventForCommand(ev bus.Event, commandID string) bool {
	e, ok := ev.Payload.(bus.CommandEvent)
	return ok && e.CommandID == commandID
}

// ExecuteAndWait submits code and waits for the relay. Execution errors and
// timeouts come back in the Outcome; the returned error is reserved for
// rejections, store failures and cancellation.
func (q *Queue) ExecuteAndWait(ctx context.Context, projectID, code, submittedBy string) (Outcome, error) {
	id, err := q.Submit(ctx, projectID, code, submittedBy)
	if err != nil {
		var rej *safety.RejectionError
		if errors.As(err, &rej) {
			return Outcome{Rejected: true, Error: rej.Reason}, err
		}
		return Outcome{Error: err.Error()}, err
	}

	cmd, err := q.Wait(ctx, id)
	switch {
	case errors.Is(err, ErrPollTimeout):
		out := Outcome{CommandID: id, TimedOut: true, Error: ErrPollTimeout.Error()}
		if cmd != nil {
			out.Status = cmd.Status
		}
		return out, nil
	case err != nil:
		return Outcome{CommandID: id, Error: err.Error()}, err
	}
	return Outcome{
		CommandID: id,
		Status:    cmd.Status,
		Result:    cmd.Result,
		Error:     cmd.ErrorLog,

		ScreenshotURL: cmd.ScreenshotURL,
	}, nil
}
