package testsupport

import (
	"testing"

	"vouch/internal/config"
	"vouch/internal/queue"
)

// MustOpenStore opens the queue store under the config's state directory
// and registers cleanup with the test.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg.Paths.StateDir)
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close queue store: %v", err)
		}
	})
	return store
}
