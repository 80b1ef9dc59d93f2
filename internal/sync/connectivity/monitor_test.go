package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEdgeTriggered(t *testing.T) {
	m := NewMonitor(false)

	var got []Transition
	m.Subscribe(func(tr Transition) { got = append(got, tr) })

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(false)

	require.Equal(t, []Transition{BecameOnline, BecameOffline}, got)
	require.False(t, m.IsOnline())
}

func TestUnsubscribe(t *testing.T) {
	m := NewMonitor(true)

	var calls int
	unsubscribe := m.Subscribe(func(Transition) { calls++ })
	m.SetOnline(false)
	unsubscribe()
	unsubscribe()
	m.SetOnline(true)

	require.Equal(t, 1, calls)
}

func TestSubscriberMayReadState(t *testing.T) {
	m := NewMonitor(false)
	var seen bool
	m.Subscribe(func(Transition) { seen = m.IsOnline() })
	m.SetOnline(true)
	require.True(t, seen)
}

func TestConcurrentSignals(t *testing.T) {
	m := NewMonitor(false)
	var ups, downs atomic.Int32
	m.Subscribe(func(tr Transition) {
		if tr == BecameOnline {
			ups.Add(1)
		} else {
			downs.Add(1)
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			m.SetOnline(on)
		}(i%2 == 0)
	}
	wg.Wait()

	// Transitions alternate, so the counts differ by at most one.
	diff := ups.Load() - downs.Load()
	require.True(t, diff == 0 || diff == 1, "ups=%d downs=%d", ups.Load(), downs.Load())
}

func TestProber(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(m, srv.URL, time.Hour, time.Second)

	require.True(t, p.Probe(context.Background()))
	require.True(t, m.IsOnline())

	healthy.Store(false)
	require.False(t, p.Probe(context.Background()))
	require.False(t, m.IsOnline())
}

func TestProberUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor(true)
	p := NewProber(m, url, time.Hour, 100*time.Millisecond)
	require.False(t, p.Probe(context.Background()))
	require.False(t, m.IsOnline())
}

func TestProberRunStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(m, srv.URL, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
