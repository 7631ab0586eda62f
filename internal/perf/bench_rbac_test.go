package perf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	jobmetrics "github.com/novafarm/console/internal/jobs"
	"github.com/novafarm/console/internal/rbac"
)

// slowStore adds a fixed delay to every read, standing in for a database
// round trip.
type slowStore struct {
	rbac.Store
	delay time.Duration
}

func (s slowStore) Get(ctx context.Context, role rbac.RoleName) (rbac.PermissionSet, error) {
	time.Sleep(s.delay)
	return s.Store.Get(ctx, role)
}

func seededStore(t testing.TB) rbac.Store {
	t.Helper()
	store := rbac.NewMemoryStore()
	if err := store.Save(context.Background(), rbac.RoleBilling, rbac.PermissionSetOf(rbac.CapBillingInvoices)); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func TestAccessDecisionLatencyTargets(t *testing.T) {
	ctx := context.Background()
	store := slowStore{Store: seededStore(t), delay: 5 * time.Millisecond}
	evaluator := rbac.NewEvaluator(store, rbac.WithCacheTTL(time.Minute))

	var cold, cached []time.Duration
	for i := 0; i < 10; i++ {
		evaluator.Forget(rbac.RoleBilling)
		start := time.Now()
		if !evaluator.Can(ctx, rbac.RoleBilling, rbac.CapBillingInvoices) {
			t.Fatal("billing should hold billing_invoices")
		}
		cold = append(cold, time.Since(start))

		start = time.Now()
		evaluator.Can(ctx, rbac.RoleBilling, rbac.CapBillingInvoices)
		cached = append(cached, time.Since(start))
	}

	if p95 := percentile95(cached); p95 > 2*time.Millisecond {
		t.Fatalf("cached decision latency regression: p95=%s", p95)
	}
	if p95 := percentile95(cold); p95 > 500*time.Millisecond {
		t.Fatalf("cold decision latency regression: p95=%s", p95)
	}
}

func TestPruneJobMetricsUnderLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	for i := 0; i < 20; i++ {
		tracker := metrics.Track("activity:prune")
		metrics.AddPruned(50)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending tracker: %v", err)
		}
	}

	if got := testutil.CollectAndCount(reg, "console_jobs_total"); got != 1 {
		t.Fatalf("expected one job series, got %d", got)
	}
	expected := `
# HELP console_activity_pruned_total Activity log rows removed by the retention job.
# TYPE console_activity_pruned_total counter
console_activity_pruned_total 1000
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "console_activity_pruned_total"); err != nil {
		t.Fatalf("pruned counter mismatch: %v", err)
	}
}

func BenchmarkEvaluatorCanCached(b *testing.B) {
	ctx := context.Background()
	evaluator := rbac.NewEvaluator(seededStore(b), rbac.WithCacheTTL(time.Minute))
	evaluator.Can(ctx, rbac.RoleBilling, rbac.CapBillingInvoices)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		evaluator.Can(ctx, rbac.RoleBilling, rbac.CapUserManagement)
	}
}

func BenchmarkNavigation(b *testing.B) {
	ctx := context.Background()
	evaluator := rbac.NewEvaluator(seededStore(b), rbac.WithCacheTTL(time.Minute))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		evaluator.Navigation(ctx, rbac.RoleBilling)
	}
}

func BenchmarkCapabilityGuard(b *testing.B) {
	evaluator := rbac.NewEvaluator(seededStore(b), rbac.WithCacheTTL(time.Minute))
	guard := rbac.Middleware{Evaluator: evaluator}
	router := chi.NewRouter()
	router.With(guard.RequireCapability(rbac.CapBillingInvoices)).Get("/console/invoices", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	actor := rbac.Session{UserID: "42", Role: rbac.RoleBilling, Authenticated: true}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/console/invoices", nil)
		req = req.WithContext(rbac.ContextWithSession(req.Context(), actor))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rr.Code)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
