// Package worker runs the message loop: it reads framed job messages, resolves
// each job through the dispatcher and writes its dynamics events and terminal
// result back on the same channel.
//
// Jobs are processed strictly one at a time. The loop reads a line, resolves
// that job to completion, flushes its result and only then reads the next line.
// Horizontal scaling is done by running more worker processes.
//
// Usage:
//
//	reg := unit.NewRegistry()
//	units.Register(reg)
//	loop := worker.New(dispatch.New(reg), worker.WithLogger(logger))
//	err := loop.Serve(ctx, os.Stdin, os.Stdout)
package worker
