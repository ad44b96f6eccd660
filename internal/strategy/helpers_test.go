package strategy

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pantry/internal/schedule"
	"github.com/roach88/pantry/internal/store"
	"github.com/roach88/pantry/internal/testutil"
	"github.com/roach88/pantry/internal/upstream"
)

type testEnv struct {
	store  *store.Store
	clock  *testutil.FakeClock
	up     *testutil.Upstream
	client *upstream.Client
	sched  *schedule.Manual
	engine *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := testutil.NewFakeClock()
	s, err := store.Open(filepath.Join(t.TempDir(), "pantry.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	up := testutil.NewUpstream(t)
	client, err := upstream.NewClient(up.URL(), nil, time.Second)
	require.NoError(t, err)

	sched := schedule.NewManual()
	return &testEnv{
		store:  s,
		clock:  clk,
		up:     up,
		client: client,
		sched:  sched,
		engine: NewEngine(s, client, sched, WithClock(clk)),
	}
}

func (e *testEnv) get(t *testing.T, path string) *upstream.Request {
	t.Helper()
	u, err := e.client.Resolve(path)
	require.NoError(t, err)
	return &upstream.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}
