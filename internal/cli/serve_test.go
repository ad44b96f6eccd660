package cli

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pantry/internal/config"
	"github.com/roach88/pantry/internal/schedule"
	"github.com/roach88/pantry/internal/testutil"
)

func TestServe_RequiresUpstream(t *testing.T) {
	t.Setenv("PANTRY_UPSTREAM", "")
	dbPath := filepath.Join(t.TempDir(), "pantry.db")

	_, err := runCLI(t, context.Background(), "serve", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "upstream is required")
}

func TestServe_BadStrategyFile(t *testing.T) {
	up := testutil.NewUpstream(t)
	dir := t.TempDir()
	rules := filepath.Join(dir, "strategies.cue")
	require.NoError(t, writeFile(rules, `rules: [{prefix: "api", strategy: "networkFirst", max_age: "1h"}]`))
	cfgPath := filepath.Join(dir, "pantry.yaml")
	require.NoError(t, writeFile(cfgPath, "strategies_file: "+rules+"\n"))

	_, err := runCLI(t, context.Background(), "serve",
		"--config", cfgPath, "--db", filepath.Join(dir, "pantry.db"), "--upstream", up.URL())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load strategy table")
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.Respond(http.MethodGet, "/", http.StatusOK, "text/html", "<html>shell</html>")
	dbPath := filepath.Join(t.TempDir(), "pantry.db")

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--db", dbPath, "--upstream", up.URL(), "--listen", "127.0.0.1:0", "--env-file", ""})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd.ExecuteContext(ctx)
	}()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after context cancellation")
	}

	_, err := os.Stat(dbPath)
	require.NoError(t, err, "database should be created")
	assert.Contains(t, out.String(), "Pantry listening on 127.0.0.1:")
}

func TestStartBackground_WarmsShellAndSyncs(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.Respond(http.MethodGet, "/", http.StatusOK, "text/html", "<html>shell</html>")
	up.Respond(http.MethodPost, "/api/suppliers", http.StatusCreated, "application/json", `{"id":1}`)

	s := seedStore(t)
	s.enqueue(t, http.MethodPost, "/api/suppliers")

	cfg := config.Default()
	cfg.Upstream = up.URL()
	cfg.Probe.Interval = time.Minute

	sched := schedule.NewManual()
	sc, err := newSidecar(cfg, s.store, sched, nil)
	require.NoError(t, err)
	t.Cleanup(sc.broker.Close)

	startBackground(sc, cfg, sched)
	assert.Equal(t, []string{"precache critical assets", "sync on start"}, sched.Submitted())
	assert.Equal(t, 2, sched.RunPending(context.Background()))

	ctx := context.Background()
	pending, err := sc.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	cached, err := s.store.GetResponse(ctx, up.URL()+"/")
	require.NoError(t, err)
	assert.Equal(t, "<html>shell</html>", string(cached.Body))
	assert.Equal(t, 1, up.Count(http.MethodPost, "/api/suppliers"))
}
