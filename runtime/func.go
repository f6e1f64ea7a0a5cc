package runtime

import "context"

// Func adapts plain functions to Component. Nil functions are no-ops.
type Func struct {
	ID       string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
	// Check, when set, is registered as the component's health check.
	Check   func(ctx context.Context) error
	CanFail bool
}

func (f *Func) Name() string           { return f.ID }
func (f *Func) Dependencies() []string { return f.Requires }
func (f *Func) Optional() bool         { return f.CanFail }

func (f *Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

func (f *Func) HealthCheck(ctx context.Context) error {
	if f.Check == nil {
		return nil
	}
	return f.Check(ctx)
}
