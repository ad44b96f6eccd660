package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Go(t *testing.T) {
	r := NewRunner(context.Background(), nil)
	defer r.Close()

	done := make(chan struct{})
	r.Go("once", func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestRunner_PanicIsRecovered(t *testing.T) {
	r := NewRunner(context.Background(), nil)

	r.Go("boom", func(ctx context.Context) { panic("boom") })
	r.Close() // must not propagate the panic
}

func TestRunner_EveryStops(t *testing.T) {
	r := NewRunner(context.Background(), nil)
	defer r.Close()

	var n atomic.Int32
	stop := r.Every("tick", 5*time.Millisecond, func(ctx context.Context) { n.Add(1) })

	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	stop()
	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, n.Load(), after+1)
}

func TestRunner_CloseCancelsTasks(t *testing.T) {
	r := NewRunner(context.Background(), nil)

	started := make(chan struct{})
	r.Go("blocking", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started
	r.Close()

	ran := false
	r.Go("after-close", func(ctx context.Context) { ran = true })
	r.Close()
	assert.False(t, ran, "tasks submitted after Close are dropped")
}

func TestManual_RunPending(t *testing.T) {
	m := NewManual()
	var order []string

	m.Go("a", func(ctx context.Context) {
		order = append(order, "a")
		m.Go("c", func(ctx context.Context) { order = append(order, "c") })
	})
	m.Go("b", func(ctx context.Context) { order = append(order, "b") })

	assert.Equal(t, 2, m.Len())
	assert.Empty(t, order, "nothing runs before RunPending")

	ran := m.RunPending(context.Background())
	assert.Equal(t, 3, ran)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []string{"a", "b", "c"}, m.Submitted())
	assert.Equal(t, 0, m.Len())
}

func TestManual_Tick(t *testing.T) {
	m := NewManual()
	n := 0
	stop := m.Every("probe", time.Minute, func(ctx context.Context) { n++ })

	m.Tick(context.Background())
	m.Tick(context.Background())
	stop()
	m.Tick(context.Background())
	assert.Equal(t, 2, n)
}
