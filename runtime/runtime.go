// Package runtime starts fringd's components in dependency order, stops them
// in reverse and aggregates their health checks.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Component is one startable part of the process.
type Component interface {
	Name() string
	Dependencies() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthReporter is implemented by components with an external dependency
// worth probing.
type HealthReporter interface {
	HealthCheck(ctx context.Context) error
}

// Optional components may fail to start without aborting the process.
type Optional interface {
	Optional() bool
}

type State string

const (
	StateRegistered State = "registered"
	StateStarted    State = "started"
	StateFailed     State = "failed"
	StateStopped    State = "stopped"
)

const defaultStopTimeout = 30 * time.Second

// Runtime manages component lifecycle.
type Runtime struct {
	logger *zap.Logger

	mu           sync.RWMutex
	components   map[string]Component
	state        map[string]State
	errs         map[string]error
	bootOrder    []string
	healthChecks map[string]func(context.Context) error
}

func New(logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		logger:       logger,
		components:   make(map[string]Component),
		state:        make(map[string]State),
		errs:         make(map[string]error),
		healthChecks: make(map[string]func(context.Context) error),
	}
}

// Register adds a component. Must be called before Start.
func (r *Runtime) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %q already registered", name)
	}
	r.components[name] = c
	r.state[name] = StateRegistered
	r.logger.Debug("component registered", zap.String("name", name))
	return nil
}

// Start starts every component after its dependencies. A required component
// that fails stops the ones already started and aborts; an optional one is
// marked failed and so are its dependents.
func (r *Runtime) Start(ctx context.Context) error {
	startTime := time.Now()
	order, err := r.resolveDependencies()
	if err != nil {
		return fmt.Errorf("dependency resolution failed: %w", err)
	}

	r.mu.Lock()
	r.bootOrder = order
	r.mu.Unlock()
	r.logger.Debug("dependency resolution completed", zap.Strings("order", order))

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			r.stopStarted(context.Background())
			return fmt.Errorf("start canceled: %w", err)
		}

		if depErr := r.checkDependenciesHealthy(name); depErr != nil {
			if abortErr := r.handleError(name, depErr); abortErr != nil {
				r.stopStarted(context.Background())
				return abortErr
			}
			continue
		}

		c := r.component(name)
		if err := c.Start(ctx); err != nil {
			if abortErr := r.handleError(name, fmt.Errorf("start failed: %w", err)); abortErr != nil {
				r.stopStarted(context.Background())
				return abortErr
			}
			continue
		}

		r.mu.Lock()
		r.state[name] = StateStarted
		if h, ok := c.(HealthReporter); ok {
			r.healthChecks[name] = h.HealthCheck
		}
		r.mu.Unlock()
		r.logger.Info("component started", zap.String("name", name))
	}

	r.logger.Info("runtime started",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("components", len(order)))
	return nil
}

// Shutdown stops started components in reverse order. Stop errors are
// logged and joined.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultStopTimeout)
		defer cancel()
	}
	err := r.stopStarted(ctx)
	r.logger.Info("shutdown completed")
	return err
}

func (r *Runtime) stopStarted(ctx context.Context) error {
	r.mu.RLock()
	order := reverseSlice(r.bootOrder)
	r.mu.RUnlock()

	var errs []error
	for _, name := range order {
		r.mu.RLock()
		started := r.state[name] == StateStarted
		c := r.components[name]
		r.mu.RUnlock()
		if !started {
			continue
		}

		if err := c.Stop(ctx); err != nil {
			r.logger.Error("component stop failed", zap.String("name", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
		r.mu.Lock()
		r.state[name] = StateStopped
		delete(r.healthChecks, name)
		r.mu.Unlock()
	}
	return stderrors.Join(errs...)
}

// Health runs every registered health check.
func (r *Runtime) Health(ctx context.Context) map[string]error {
	r.mu.RLock()
	checks := make(map[string]func(context.Context) error, len(r.healthChecks))
	for name, fn := range r.healthChecks {
		checks[name] = fn
	}
	r.mu.RUnlock()

	out := make(map[string]error, len(checks))
	for name, fn := range checks {
		out[name] = fn(ctx)
	}
	return out
}

func (r *Runtime) State(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.state[name]
	return s, ok
}

// Err returns the failure recorded for name, if any.
func (r *Runtime) Err(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errs[name]
}

// BootOrder returns the order used by Start.
func (r *Runtime) BootOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.bootOrder...)
}

// --- Internal ---

func (r *Runtime) component(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.components[name]
}

func (r *Runtime) resolveDependencies() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inDegree := make(map[string]int, len(r.components))
	dependents := make(map[string][]string)

	for name := range r.components {
		inDegree[name] = 0
	}
	for name, c := range r.components {
		for _, dep := range c.Dependencies() {
			if _, exists := r.components[dep]; !exists {
				return nil, fmt.Errorf("component %q depends on %q which is not registered", name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Kahn's algorithm
	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(r.components) {
		return nil, stderrors.New("circular dependency detected")
	}
	return order, nil
}

func (r *Runtime) handleError(name string, err error) error {
	r.mu.Lock()
	r.state[name] = StateFailed
	r.errs[name] = err
	c := r.components[name]
	r.mu.Unlock()

	if o, ok := c.(Optional); ok && o.Optional() {
		r.logger.Warn("optional component failed, continuing",
			zap.String("name", name), zap.Error(err))
		return nil
	}
	return fmt.Errorf("required component %q failed: %w", name, err)
}

func (r *Runtime) checkDependenciesHealthy(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dep := range r.components[name].Dependencies() {
		if r.state[dep] == StateFailed {
			return fmt.Errorf("dependency %q is in failed state", dep)
		}
	}
	return nil
}

func reverseSlice(s []string) []string {
	n := len(s)
	reversed := make([]string, n)
	for i, v := range s {
		reversed[n-1-i] = v
	}
	return reversed
}
