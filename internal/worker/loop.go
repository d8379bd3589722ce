package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/stepd/internal/dispatch"
	"github.com/san-kum/stepd/internal/wire"
)

// Loop is the single writer of the output channel.
type Loop struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	observers  []Observer
	newID      func() string
}

type Option func(*Loop)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithObserver adds an observer. Observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// WithIDGenerator overrides uuid job IDs.
func WithIDGenerator(fn func() string) Option {
	return func(l *Loop) {
		l.newID = fn
	}
}

func New(d *dispatch.Dispatcher, opts ...Option) *Loop {
	l := &Loop{
		dispatcher: d,
		logger:     slog.Default(),
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Serve processes frames from r until end of input. It returns nil at EOF,
// ctx.Err() once ctx is cancelled, and any read or write error. A job in
// progress when ctx ends runs to completion and writes its result. A read
// blocked when ctx ends is abandoned; callers close r to release it.
func (l *Loop) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	out := wire.NewWriter(w)
	frames, stop := readFrames(wire.NewReader(r))
	defer stop()

	l.logger.Info("worker ready")
	jobs := 0
	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("worker stopping", "jobs", jobs, "reason", err)
			return err
		}

		var f frame
		select {
		case <-ctx.Done():
			continue
		case f = <-frames:
		}
		if errors.Is(f.err, io.EOF) {
			l.logger.Info("input closed", "jobs", jobs)
			return nil
		}
		if f.err != nil {
			if ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("worker: read: %w", f.err)
		}

		handled, err := l.handle(ctx, f.line, out)
		if err != nil {
			return err
		}
		if handled {
			jobs++
		}
	}
}

type frame struct {
	line []byte
	err  error
}

// readFrames reads ahead by at most one frame. Reading ends after the first
// error or once stop is called.
func readFrames(in *wire.Reader) (<-chan frame, func()) {
	frames := make(chan frame)
	done := make(chan struct{})
	go func() {
		for {
			line, err := in.Next()
			select {
			case frames <- frame{line: line, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return frames, func() { close(done) }
}

// handle processes one frame. It reports whether the frame was a job.
func (l *Loop) handle(ctx context.Context, line []byte, out *wire.Writer) (bool, error) {
	if len(line) == 0 {
		return false, nil
	}

	var env wire.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		l.logger.Warn("skipping malformed message", "error", err, "bytes", len(line))
		return false, nil
	}
	if env.Type != wire.TypeJob {
		l.logger.Debug("ignoring message", "type", env.Type)
		return false, nil
	}

	job := Job{ID: l.newID(), RequestID: string(env.RequestID), StartedAt: time.Now()}
	logger := l.logger.With("job", job.ID)
	if job.RequestID != "" {
		logger = logger.With("request_id", job.RequestID)
	}

	req, err := dispatch.ParseRequest(env.Request)
	if err != nil {
		logger.Warn("rejecting job", "error", err)
		l.notify(logger, func(o Observer) error { return o.JobStarted(ctx, job) })
		outcome := dispatch.Outcome{Data: wire.ErrorResult(err.Error()), Err: err}
		return true, l.finish(ctx, logger, job, outcome, out)
	}
	job.Script = req.Script
	l.notify(logger, func(o Observer) error { return o.JobStarted(ctx, job) })

	var writeErr error
	outcome := l.dispatcher.Dispatch(req, func(data any) {
		if writeErr != nil {
			return
		}
		frame, err := wire.Encode(wire.Message{Type: wire.TypeDynamics, RequestID: env.RequestID, Data: data})
		if err != nil {
			logger.Warn("dropping unencodable dynamics event", "error", err)
			return
		}
		if writeErr = out.WriteFrame(frame); writeErr != nil {
			return
		}
		l.notify(logger, func(o Observer) error { return o.Dynamics(ctx, job, data) })
	})
	if writeErr != nil {
		return true, writeErr
	}

	return true, l.finish(ctx, logger, job, outcome, out)
}

// finish writes exactly one result frame for the job.
func (l *Loop) finish(ctx context.Context, logger *slog.Logger, job Job, outcome dispatch.Outcome, out *wire.Writer) error {
	frame, err := wire.Encode(wire.Message{Type: wire.TypeResult, RequestID: json.RawMessage(job.RequestID), Data: outcome.Data})
	if err != nil {
		logger.Error("result not encodable", "error", err)
		err = fmt.Errorf("encode result: %w", err)
		outcome.Data = wire.ErrorResult(err.Error())
		outcome.Err = err
		frame, err = wire.Encode(wire.Message{Type: wire.TypeResult, RequestID: json.RawMessage(job.RequestID), Data: outcome.Data})
		if err != nil {
			return err
		}
	}
	if err := out.WriteFrame(frame); err != nil {
		return err
	}

	elapsed := time.Since(job.StartedAt)
	attrs := []any{"unit", outcome.Unit, "mode", outcome.Mode.String(), "events", outcome.Events, "elapsed", elapsed}
	switch {
	case outcome.Failed():
		logger.Warn("job failed", append(attrs, "error", outcome.Err)...)
	case outcome.Failures > 0:
		logger.Warn("job finished with failed entries", append(attrs, "failures", outcome.Failures, "results", outcome.Results)...)
	default:
		logger.Info("job finished", attrs...)
	}

	l.notify(logger, func(o Observer) error { return o.JobFinished(ctx, job, outcome, elapsed) })
	return nil
}

func (l *Loop) notify(logger *slog.Logger, fn func(Observer) error) {
	for _, o := range l.observers {
		if err := fn(o); err != nil {
			logger.Warn("observer failed", "observer", fmt.Sprintf("%T", o), "error", err)
		}
	}
}
