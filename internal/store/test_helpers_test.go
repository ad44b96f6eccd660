package store

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/testutil"
)

// createTestStore creates a new on-disk store in a temp dir driven by a fake clock.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clk))
	require.NoError(t, err, "Open() failed")
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// createTestAction creates a pending action with minimal required fields.
func createTestAction(id, method, endpoint string) model.QueuedAction {
	op, _ := model.OperationForMethod(method)
	return model.QueuedAction{
		ID:         id,
		EntityName: model.EntityFromEndpoint(endpoint),
		Operation:  op,
		Endpoint:   endpoint,
		Method:     method,
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Payload:    []byte(`{"name":"Acme"}`),
		Timestamp:  testutil.Epoch,
		Status:     model.StatusPending,
	}
}
