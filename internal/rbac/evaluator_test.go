package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingStore wraps a MemoryStore and counts reads. When failReads is set
// every read fails.
type countingStore struct {
	*MemoryStore
	mu        sync.Mutex
	reads     int
	failReads bool
	failSaves bool
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore()}
}

func (s *countingStore) Get(ctx context.Context, role RoleName) (PermissionSet, error) {
	s.mu.Lock()
	s.reads++
	fail := s.failReads
	s.mu.Unlock()
	if fail {
		return PermissionSet{}, &PersistenceError{Op: "read", Role: role, Err: errors.New("connection reset")}
	}
	return s.MemoryStore.Get(ctx, role)
}

func (s *countingStore) Save(ctx context.Context, role RoleName, set PermissionSet) error {
	s.mu.Lock()
	fail := s.failSaves
	s.mu.Unlock()
	if fail {
		return &PersistenceError{Op: "write", Role: role, Err: errors.New("connection reset")}
	}
	return s.MemoryStore.Save(ctx, role, set)
}

func (s *countingStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *countingStore) setFailReads(v bool) {
	s.mu.Lock()
	s.failReads = v
	s.mu.Unlock()
}

func (s *countingStore) setFailSaves(v bool) {
	s.mu.Lock()
	s.failSaves = v
	s.mu.Unlock()
}

type decisionLog struct {
	mu      sync.Mutex
	allowed map[string]int
	denied  map[string]int
}

func (d *decisionLog) ObserveAccess(capability string, allowed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allowed == nil {
		d.allowed, d.denied = map[string]int{}, map[string]int{}
	}
	if allowed {
		d.allowed[capability]++
		return
	}
	d.denied[capability]++
}

type publishLog struct {
	mu    sync.Mutex
	roles []RoleName
}

func (p *publishLog) Publish(_ context.Context, role RoleName) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles = append(p.roles, role)
	return nil
}

func seed(t *testing.T, store Store, role RoleName, caps ...Capability) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), role, PermissionSetOf(caps...)))
}

func TestSuperAdminBypassesStore(t *testing.T) {
	store := newCountingStore()
	store.setFailReads(true)
	e := NewEvaluator(store)

	for _, c := range Capabilities() {
		require.True(t, e.Can(context.Background(), RoleSuperAdmin, c))
	}
	require.Equal(t, NavigationSuperset(), e.Navigation(context.Background(), RoleSuperAdmin))
	require.Zero(t, store.readCount())
}

func TestUnknownRoleDenied(t *testing.T) {
	store := newCountingStore()
	e := NewEvaluator(store)
	require.False(t, e.Can(context.Background(), RoleName("root"), CapUserManagement))
	require.False(t, e.CanSession(context.Background(), Unauthenticated, CapUserManagement))
	require.Zero(t, store.readCount())
}

func TestCanFollowsStoredFlags(t *testing.T) {
	store := newCountingStore()
	seed(t, store, RoleStaff, CapUserManagement, CapAnalyticsReports)
	e := NewEvaluator(store)
	ctx := context.Background()

	require.True(t, e.Can(ctx, RoleStaff, CapUserManagement))
	require.True(t, e.Can(ctx, RoleStaff, CapAnalyticsReports))
	require.False(t, e.Can(ctx, RoleStaff, CapPaymentProcessing))
	require.False(t, e.Can(ctx, RoleUser, CapUserManagement))
}

func TestReadFailureDenies(t *testing.T) {
	store := newCountingStore()
	seed(t, store, RoleAdmin, Capabilities()...)
	store.setFailReads(true)
	rec := &decisionLog{}
	e := NewEvaluator(store, WithDecisionRecorder(rec))

	require.False(t, e.Can(context.Background(), RoleAdmin, CapSystemSettings))
	require.Equal(t, 1, rec.denied[string(CapSystemSettings)])

	nav := e.Navigation(context.Background(), RoleAdmin)
	for _, item := range nav {
		require.False(t, item.Gated(), "gated item %s shown after read failure", item.ID)
	}
}

func TestBillingNavigation(t *testing.T) {
	store := newCountingStore()
	seed(t, store, RoleBilling, CapBillingInvoices)
	e := NewEvaluator(store)

	var ids []string
	for _, item := range e.Navigation(context.Background(), RoleBilling) {
		ids = append(ids, item.ID)
	}
	require.Equal(t, []string{"dashboard", "invoices", "roles", "subscription_plan", "email"}, ids)
	require.Equal(t, 1, store.readCount())
}

func TestNavigationOrderIndependentOfFlags(t *testing.T) {
	store := newCountingStore()
	seed(t, store, RoleAdmin, CapSystemSettings, CapUserManagement)
	e := NewEvaluator(store)

	var ids []string
	for _, item := range e.Navigation(context.Background(), RoleAdmin) {
		ids = append(ids, item.ID)
	}
	require.Equal(t, []string{"dashboard", "users", "settings", "roles", "subscription_plan", "email"}, ids)
}

func TestCacheServesRepeatReads(t *testing.T) {
	store := newCountingStore()
	seed(t, store, RoleStaff, CapUserManagement)
	e := NewEvaluator(store, WithCacheTTL(time.Minute))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, e.Can(ctx, RoleStaff, CapUserManagement))
	}
	require.Equal(t, 1, store.readCount())
}

func TestCacheExpires(t *testing.T) {
	store := newCountingStore()
	e := NewEvaluator(store, WithCacheTTL(time.Minute))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	e.Can(ctx, RoleStaff, CapUserManagement)
	now = now.Add(2 * time.Minute)
	e.Can(ctx, RoleStaff, CapUserManagement)
	require.Equal(t, 2, store.readCount())
}

func TestNoCacheReadsEveryTime(t *testing.T) {
	store := newCountingStore()
	e := NewEvaluator(store)
	e.Can(context.Background(), RoleStaff, CapUserManagement)
	e.Can(context.Background(), RoleStaff, CapUserManagement)
	require.Equal(t, 2, store.readCount())
}

func TestInvalidateDropsCacheAndPublishes(t *testing.T) {
	store := newCountingStore()
	seed(t, store, RoleBilling, CapBillingInvoices)
	pub := &publishLog{}
	e := NewEvaluator(store, WithCacheTTL(time.Minute), WithBroadcaster(pub))
	ctx := context.Background()

	require.True(t, e.Can(ctx, RoleBilling, CapBillingInvoices))
	seed(t, store, RoleBilling)
	require.True(t, e.Can(ctx, RoleBilling, CapBillingInvoices), "cached view")

	require.NoError(t, e.Invalidate(ctx, RoleBilling))
	require.False(t, e.Can(ctx, RoleBilling, CapBillingInvoices))
	require.Equal(t, []RoleName{RoleBilling}, pub.roles)
}

func TestPermissionsHonoursCancelledContext(t *testing.T) {
	store := newCountingStore()
	e := NewEvaluator(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Permissions(ctx, RoleStaff)
	require.ErrorIs(t, err, ErrPersistence)
}

func TestStaleLoadDoesNotRepopulateCache(t *testing.T) {
	store := newCountingStore()
	e := NewEvaluator(store, WithCacheTTL(time.Minute))

	gen := e.currentGeneration()
	e.Forget(RoleStaff)
	e.remember(RoleStaff, PermissionSetOf(CapUserManagement), gen)

	_, ok := e.cached(RoleStaff)
	require.False(t, ok)
}
