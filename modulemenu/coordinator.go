// Package modulemenu decides which feature modules the menu shows and tells
// menu listeners when that changes.
//
// The Coordinator owns the only module-status cache. Admin-prefixed module
// codes ignore module status and follow the admin-access flag, which is
// mirrored to a kvstore so it survives a restart.
package modulemenu

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fring-app/fring-core/cache"
	"github.com/fring-app/fring-core/eventbus"
	"github.com/fring-app/fring-core/events"
	"github.com/fring-app/fring-core/kvstore"
	"github.com/fring-app/fring-core/scheduler"
)

const (
	// AdminPrefix marks module codes governed by the admin-access flag.
	AdminPrefix = "admin"
	// AdminAccessKey is the persisted flag; "true" means enabled.
	AdminAccessKey = "admin_access_enabled"

	adminDebounceKey = "admin_access"
	moduleKeyPrefix  = "module:"
)

// Status of a feature module.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDegraded Status = "degraded"
)

// Visible reports whether a module with this status is shown in the menu.
func (s Status) Visible() bool {
	return s == StatusActive || s == StatusDegraded
}

// Module is one feature module as reported by the module repository.
type Module struct {
	Code   string `json:"code" validate:"required"`
	Status Status `json:"status" validate:"omitempty,oneof=active inactive degraded"`
}

// ModuleStatus is a cache entry.
type ModuleStatus struct {
	Active    bool      `json:"active"`
	Degraded  bool      `json:"degraded"`
	Timestamp time.Time `json:"timestamp"`
}

// Status folds the entry back into a Status.
func (m ModuleStatus) Status() Status {
	switch {
	case m.Degraded:
		return StatusDegraded
	case m.Active:
		return StatusActive
	default:
		return StatusInactive
	}
}

func statusEntry(s Status, at time.Time) ModuleStatus {
	return ModuleStatus{
		Active:    s == StatusActive,
		Degraded:  s == StatusDegraded,
		Timestamp: at,
	}
}

// Config holds coordinator timings.
type Config struct {
	CacheTTL        time.Duration `mapstructure:"cache-ttl" json:"cache-ttl" yaml:"cache-ttl" default:"60s"`
	Debounce        time.Duration `mapstructure:"debounce" json:"debounce" yaml:"debounce" default:"300ms"`
	RefreshInterval time.Duration `mapstructure:"refresh-interval" json:"refresh-interval" yaml:"refresh-interval" default:"500ms"`
	// SessionUser is the user whose admin status changes toggle admin access.
	SessionUser string `mapstructure:"session-user" json:"session-user" yaml:"session-user"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source of the cache, the refresh throttle and
// event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator is the source of truth for module visibility.
type Coordinator struct {
	cfg    Config
	bus    *eventbus.Bus
	store  kvstore.Store
	logger *zap.Logger
	now    func() time.Time

	cache     *cache.TTL[string, ModuleStatus]
	debouncer *scheduler.Debouncer
	throttle  *scheduler.Throttle

	mu           sync.RWMutex
	adminEnabled bool
	sessionUser  string
	subs         []eventbus.Subscription
	closed       bool
}

// New builds a coordinator, reads the persisted admin flag once and
// subscribes to the upstream module and user events.
func New(ctx context.Context, cfg Config, bus *eventbus.Bus, store kvstore.Store, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = kvstore.NewMemory()
	}

	c := &Coordinator{
		cfg:         cfg,
		bus:         bus,
		store:       store,
		logger:      logger,
		now:         time.Now,
		sessionUser: cfg.SessionUser,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cache = cache.NewTTL[string, ModuleStatus](cfg.CacheTTL).WithClock(c.now)
	c.debouncer = scheduler.NewDebouncer(cfg.Debounce)
	c.throttle = scheduler.NewThrottle(cfg.RefreshInterval).WithClock(c.now)

	v, ok, err := store.Get(ctx, AdminAccessKey)
	if err != nil {
		logger.Warn("read admin access flag", zap.Error(err))
	}
	c.adminEnabled = ok && v == "true"

	c.subs = []eventbus.Subscription{
		bus.Subscribe(events.TopicModulesStatusChanged, c.onModulesStatusChanged),
		bus.Subscribe(events.TopicModuleStatusUpdated, c.onModuleStatusUpdated),
		bus.Subscribe(events.TopicUserAdminStatusChanged, c.onUserAdminStatusChanged),
	}

	logger.Info("module menu coordinator ready",
		zap.Bool("admin_access", c.adminEnabled),
		zap.Duration("cache_ttl", cfg.CacheTTL))
	return c
}

// IsModuleVisibleInMenu reports whether the module code should appear in the
// menu. Admin codes follow the admin flag. Other codes are resolved from the
// cache, or from modules on a miss.
func (c *Coordinator) IsModuleVisibleInMenu(ctx context.Context, code string, modules []Module) bool {
	return c.ModuleStatus(ctx, code, modules).Visible()
}

// ModuleStatus resolves the status used for rendering decisions. Unknown
// modules are inactive.
func (c *Coordinator) ModuleStatus(_ context.Context, code string, modules []Module) Status {
	if strings.HasPrefix(code, AdminPrefix) {
		if c.AdminAccessEnabled() {
			return StatusActive
		}
		return StatusInactive
	}

	if entry, ok := c.cache.Get(code); ok {
		return entry.Status()
	}

	status := StatusInactive
	for _, m := range modules {
		if m.Code == code {
			status = m.Status
			break
		}
	}
	entry := statusEntry(status, c.now())
	c.cache.Set(code, entry)
	return entry.Status()
}

// CachedStatus returns the cache entry for code, if still valid.
func (c *Coordinator) CachedStatus(code string) (ModuleStatus, bool) {
	return c.cache.Get(code)
}

func (c *Coordinator) AdminAccessEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adminEnabled
}

// EnableAdminAccess turns admin access on. It is a no-op when already on.
func (c *Coordinator) EnableAdminAccess(ctx context.Context) {
	if !c.setAdmin(true) {
		return
	}
	if err := c.store.Set(ctx, AdminAccessKey, "true"); err != nil {
		c.logger.Warn("persist admin access flag", zap.Error(err))
	}
	c.debouncer.Schedule(adminDebounceKey, func() {
		c.publish(context.Background(), events.AdminAccessGranted{Timestamp: events.Millis(c.now())})
	})
	c.RefreshMenu(ctx)
}

// DisableAdminAccess turns admin access off. It is a no-op when already off.
func (c *Coordinator) DisableAdminAccess(ctx context.Context) {
	if !c.setAdmin(false) {
		return
	}
	if err := c.store.Remove(ctx, AdminAccessKey); err != nil {
		c.logger.Warn("remove admin access flag", zap.Error(err))
	}
	c.debouncer.Schedule(adminDebounceKey, func() {
		c.publish(context.Background(), events.AdminAccessRevoked{Timestamp: events.Millis(c.now())})
	})
	c.RefreshMenu(ctx)
}

// setAdmin reports whether the flag changed.
func (c *Coordinator) setAdmin(enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adminEnabled == enabled {
		return false
	}
	c.adminEnabled = enabled
	return true
}

// ClearModuleCache drops every cached status and refreshes the menu.
func (c *Coordinator) ClearModuleCache(ctx context.Context) {
	c.cache.Clear()
	c.RefreshMenu(ctx)
}

// RefreshMenu publishes module_menu:menu_updated unless one went out within
// the refresh interval. Dropped calls return false.
func (c *Coordinator) RefreshMenu(ctx context.Context) bool {
	if !c.throttle.Allow() {
		c.logger.Debug("menu refresh dropped")
		return false
	}
	c.publish(ctx, events.MenuUpdated{Timestamp: events.Millis(c.now())})
	return true
}

// RequestNavigation asks menu listeners to navigate to path.
func (c *Coordinator) RequestNavigation(ctx context.Context, path string) {
	c.publish(ctx, events.NavigationRequested{Path: path, Timestamp: events.Millis(c.now())})
}

func (c *Coordinator) SetSessionUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionUser = userID
}

func (c *Coordinator) SessionUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionUser
}

// Close drops the upstream subscriptions and pending debounced work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	c.debouncer.Stop()
}

func (c *Coordinator) onModulesStatusChanged(_ context.Context, event events.Event) error {
	p, ok := event.Data.(events.ModulesStatusChanged)
	if !ok || p.ModuleCode == "" {
		return nil
	}
	c.scheduleStatus(p.ModuleCode, Status(p.Status))
	return nil
}

func (c *Coordinator) onModuleStatusUpdated(_ context.Context, event events.Event) error {
	p, ok := event.Data.(events.ModuleStatusUpdated)
	if !ok || p.Key() == "" {
		return nil
	}
	c.scheduleStatus(p.Key(), Status(p.Status))
	return nil
}

// scheduleStatus coalesces bursts per module; only the last status survives.
func (c *Coordinator) scheduleStatus(code string, status Status) {
	c.debouncer.Schedule(moduleKeyPrefix+code, func() {
		ctx := context.Background()
		now := c.now()
		c.cache.Set(code, statusEntry(status, now))
		c.publish(ctx, events.ModuleStatusChanged{
			ModuleCode: code,
			Status:     string(status),
			Timestamp:  events.Millis(now),
		})
		c.RefreshMenu(ctx)
	})
}

func (c *Coordinator) onUserAdminStatusChanged(ctx context.Context, event events.Event) error {
	p, ok := event.Data.(events.UserAdminStatusChanged)
	if !ok {
		return nil
	}
	user := c.SessionUser()
	if user == "" || p.UserID != user {
		return nil
	}
	if p.IsAdmin {
		c.EnableAdminAccess(ctx)
	} else {
		c.DisableAdminAccess(ctx)
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, p events.Payload) {
	if err := c.bus.Publish(ctx, p.Topic(), p); err != nil {
		c.logger.Debug("menu event not published", zap.String("topic", p.Topic()), zap.Error(err))
	}
}
