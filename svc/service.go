package svc

import "sync"

// Service is the user-supplied unit of work a Controller drives through
// its lifecycle (§1, §6). Start is invoked on a worker goroutine,
// outside every container lock, to produce the values the service
// provides; Stop releases them. Neither is ever called concurrently
// with the other for the same controller.
type Service interface {
	Start(ctx *StartContext) error
	Stop(ctx *StopContext) error
}

// StartContext is the lifecycle handle passed to Service.Start (§4.4).
// Asynchronous defers completion to a later Complete/Fail call made
// from any goroutine; without it, Start's return value alone decides
// the outcome.
type StartContext struct {
	mu       sync.Mutex
	async    bool
	resolved bool
	c        *Controller
}

// Asynchronous defers completion: the worker will not act on Start's
// return value, and the controller instead waits for Complete or Fail.
func (ctx *StartContext) Asynchronous() {
	ctx.mu.Lock()
	ctx.async = true
	ctx.mu.Unlock()
}

// Complete signals successful start. Calling it a second time, or
// after the implicit (non-asynchronous) completion already ran, is an
// internal contract violation (§7).
func (ctx *StartContext) Complete() error {
	return ctx.resolve(nil, true)
}

// Fail signals a failed start with the given cause.
func (ctx *StartContext) Fail(reason error) error {
	if reason == nil {
		reason = errIllegalState("svc: Fail called with a nil reason")
	}
	return ctx.resolve(reason, true)
}

// Provide writes the value for one of the controller's provided names.
// It is only valid while the controller is in its STARTING (or
// STOPPING) window; calling it outside that window is an internal
// contract violation.
func (ctx *StartContext) Provide(name Name, value interface{}) error {
	return ctx.c.provide(name, value)
}

func (ctx *StartContext) isAsync() bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.async
}

func (ctx *StartContext) resolve(err error, explicit bool) error {
	ctx.mu.Lock()
	if ctx.resolved {
		ctx.mu.Unlock()
		if explicit {
			return errIllegalState("svc: start context already completed")
		}
		return nil
	}
	ctx.resolved = true
	ctx.mu.Unlock()
	ctx.c.completeStart(err)
	return nil
}

// StopContext is the lifecycle handle passed to Service.Stop. Stop
// never fails the lifecycle (§7): any error it returns is only logged.
type StopContext struct {
	mu       sync.Mutex
	async    bool
	resolved bool
	c        *Controller
}

// Asynchronous defers completion to a later Complete call.
func (ctx *StopContext) Asynchronous() {
	ctx.mu.Lock()
	ctx.async = true
	ctx.mu.Unlock()
}

// Complete signals that the stop callback has finished its work.
func (ctx *StopContext) Complete() error {
	return ctx.resolve(true)
}

func (ctx *StopContext) isAsync() bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.async
}

func (ctx *StopContext) resolve(explicit bool) error {
	ctx.mu.Lock()
	if ctx.resolved {
		ctx.mu.Unlock()
		if explicit {
			return errIllegalState("svc: stop context already completed")
		}
		return nil
	}
	ctx.resolved = true
	ctx.mu.Unlock()
	ctx.c.completeStop()
	return nil
}
