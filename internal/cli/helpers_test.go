package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/queue"
	"github.com/roach88/pantry/internal/store"
	"github.com/roach88/pantry/internal/testutil"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// decodeData decodes the data of a JSON envelope into v.
func decodeData(t *testing.T, output string, v any) {
	t.Helper()
	var env struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &env), output)
	require.Equal(t, "ok", env.Status, output)
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func decodeError(t *testing.T, output string) CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp), output)
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

type seeded struct {
	path  string
	clock *testutil.FakeClock
	store *store.Store
	queue *queue.Queue
}

// seedStore opens a database on a fake clock for the test to fill. The store
// is closed before the CLI reopens it.
func seedStore(t *testing.T) *seeded {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pantry.db")
	clk := testutil.NewFakeClock()
	st, err := store.Open(path, store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	q := queue.New(st, queue.WithClock(clk), queue.WithIDGenerator(testutil.NewSequentialIDs("action")))
	return &seeded{path: path, clock: clk, store: st, queue: q}
}

func (s *seeded) enqueue(t *testing.T, method, endpoint string) model.QueuedAction {
	t.Helper()
	a, err := queue.FromRequest(method, endpoint, http.Header{"Content-Type": {"application/json"}}, []byte(`{"name":"Acme"}`))
	require.NoError(t, err)
	stored, err := s.queue.Enqueue(context.Background(), a)
	require.NoError(t, err)
	return stored
}

func (s *seeded) fail(t *testing.T, id string) {
	t.Helper()
	_, err := s.queue.MarkFailed(context.Background(), id, errors.New("POST /api/suppliers: HTTP 500"))
	require.NoError(t, err)
}

func (s *seeded) close(t *testing.T) {
	t.Helper()
	require.NoError(t, s.store.Close())
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
