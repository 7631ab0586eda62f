package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("NOVAFARM_TEST_MODE", "1")
		if os.Getenv("CSRF_SECRET") == "" {
			_ = os.Setenv("CSRF_SECRET", "test-csrf-secret")
		}
		if os.Getenv("PERMISSION_BACKEND") == "" {
			_ = os.Setenv("PERMISSION_BACKEND", "memory")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain lets packages reuse the test-mode setup as their own TestMain.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
