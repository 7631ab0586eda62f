package rbac

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DecisionRecorder observes access decisions, typically for metrics.
type DecisionRecorder interface {
	ObserveAccess(capability string, allowed bool)
}

// Broadcaster fans cache invalidations out to other console instances.
type Broadcaster interface {
	Publish(ctx context.Context, role RoleName) error
}

// Evaluator answers capability questions for roles and builds the navigation.
type Evaluator struct {
	store       Store
	logger      *slog.Logger
	recorder    DecisionRecorder
	broadcaster Broadcaster
	ttl         time.Duration
	now         func() time.Time

	mu    sync.RWMutex
	cache map[RoleName]cachedSet
	// generation changes on every invalidation so loads that started earlier
	// never repopulate the cache.
	generation uint64
	loads      singleflight.Group
}

type cachedSet struct {
	set       PermissionSet
	expiresAt time.Time
}

// EvaluatorOption customises an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithCacheTTL keeps loaded sets for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) EvaluatorOption {
	return func(e *Evaluator) { e.ttl = ttl }
}

// WithLogger attaches a logger for denied-on-error decisions.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = logger }
}

// WithDecisionRecorder reports every Can decision to rec.
func WithDecisionRecorder(rec DecisionRecorder) EvaluatorOption {
	return func(e *Evaluator) { e.recorder = rec }
}

// WithBroadcaster publishes invalidations through b.
func WithBroadcaster(b Broadcaster) EvaluatorOption {
	return func(e *Evaluator) { e.broadcaster = b }
}

// NewEvaluator builds an Evaluator over store.
func NewEvaluator(store Store, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store: store,
		now:   time.Now,
		cache: make(map[RoleName]cachedSet),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Can reports whether role holds capability. super-admin is exempt from the
// permission set; read failures deny.
func (e *Evaluator) Can(ctx context.Context, role RoleName, capability Capability) bool {
	allowed := e.can(ctx, role, capability)
	if e.recorder != nil {
		e.recorder.ObserveAccess(string(capability), allowed)
	}
	return allowed
}

func (e *Evaluator) can(ctx context.Context, role RoleName, capability Capability) bool {
	if role == RoleSuperAdmin {
		return true
	}
	if !role.Valid() {
		return false
	}
	set, err := e.Permissions(ctx, role)
	if err != nil {
		e.logDenied(role, err)
		return false
	}
	return set.Has(capability)
}

// CanSession evaluates capability for a resolved session.
func (e *Evaluator) CanSession(ctx context.Context, s Session, capability Capability) bool {
	if !s.Authenticated {
		if e.recorder != nil {
			e.recorder.ObserveAccess(string(capability), false)
		}
		return false
	}
	return e.Can(ctx, s.Role, capability)
}

// Permissions returns the set for role, using the cached view when enabled.
func (e *Evaluator) Permissions(ctx context.Context, role RoleName) (PermissionSet, error) {
	if role == RoleSuperAdmin {
		return PermissionSetOf(Capabilities()...), nil
	}
	if !role.Valid() {
		return PermissionSet{}, ErrUnknownRole
	}
	if set, ok := e.cached(role); ok {
		return set, nil
	}
	ch := e.loads.DoChan(string(role), func() (interface{}, error) {
		gen := e.currentGeneration()
		set, err := e.store.Get(context.WithoutCancel(ctx), role)
		if err != nil {
			return PermissionSet{}, err
		}
		e.remember(role, set, gen)
		return set, nil
	})
	select {
	case <-ctx.Done():
		return PermissionSet{}, &PersistenceError{Op: "read", Role: role, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return PermissionSet{}, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

// Invalidate drops the cached view of role here and, when configured, on every
// other instance.
func (e *Evaluator) Invalidate(ctx context.Context, role RoleName) error {
	e.Forget(role)
	if e.broadcaster == nil {
		return nil
	}
	return e.broadcaster.Publish(ctx, role)
}

// Forget drops the local cached view of role.
func (e *Evaluator) Forget(role RoleName) {
	e.mu.Lock()
	delete(e.cache, role)
	e.generation++
	e.mu.Unlock()
	e.loads.Forget(string(role))
}

// ForgetAll empties the local cache.
func (e *Evaluator) ForgetAll() {
	e.mu.Lock()
	e.cache = make(map[RoleName]cachedSet)
	e.generation++
	e.mu.Unlock()
}

func (e *Evaluator) cached(role RoleName) (PermissionSet, bool) {
	if e.ttl <= 0 {
		return PermissionSet{}, false
	}
	e.mu.RLock()
	entry, ok := e.cache[role]
	e.mu.RUnlock()
	if !ok || !e.now().Before(entry.expiresAt) {
		return PermissionSet{}, false
	}
	return entry.set, true
}

func (e *Evaluator) currentGeneration() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

func (e *Evaluator) remember(role RoleName, set PermissionSet, gen uint64) {
	if e.ttl <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return
	}
	e.cache[role] = cachedSet{set: set, expiresAt: e.now().Add(e.ttl)}
}

func (e *Evaluator) logDenied(role RoleName, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Warn("rbac permission lookup failed, denying", slog.String("role", string(role)), slog.Any("error", err))
}
