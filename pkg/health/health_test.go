package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingWith(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, endpoint http.HandlerFunc) (int, probeBody) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body probeBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLive_NoChecks(t *testing.T) {
	h := New(nil)

	code, body := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)
}

func TestLive_FailureThreshold(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("goroutines", time.Second, failingWith("too many"))
	c := h.liveness[0]

	runN(c, 2)
	code, _ := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "two failures stay under the threshold")

	runN(c, 1)
	code, body := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"goroutines": "too many"}, body.Checks)
}

func TestReady_RequiresSetReady(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, passing())

	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, body = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	code, _ = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReady_OnlyFailingChecksListed(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, failingWith("connection refused"))
	h.AddReadinessCheck("pool", time.Second, passing())
	h.SetReady(true)

	runN(h.readiness[0], 3)
	runN(h.readiness[1], 3)

	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"postgres": "connection refused"}, body.Checks)
	assert.False(t, h.IsReady())
}

func TestCheck_Recovery(t *testing.T) {
	down := true
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(1, 2))
	c := h.readiness[0]

	assert.True(t, c.run(context.Background()), "one failure flips with threshold 1")
	assert.False(t, c.healthy.Load())
	assert.EqualError(t, c.err(), "down")

	down = false
	assert.False(t, c.run(context.Background()))
	assert.False(t, c.healthy.Load(), "needs two passes")
	assert.True(t, c.run(context.Background()))
	assert.True(t, c.healthy.Load())
	assert.NoError(t, c.err())
}

func TestCheck_Timeout(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithThresholds(1, 1))
	c := h.readiness[0]

	c.run(context.Background())
	assert.ErrorIs(t, c.err(), context.DeadlineExceeded)
}

func TestStart_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := New(zap.New(core))
	h.AddLivenessCheck("goroutines", time.Second, failingWith("leak"), WithThresholds(1, 1))

	h.Start(context.Background(), 5*time.Millisecond)
	defer h.Stop()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("Health check failing").Len() > 0
	}, time.Second, 5*time.Millisecond)
	// Only the transition is logged, not every failing run.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("Health check failing").Len())
}

func TestStop_Idempotent(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("goroutines", time.Second, passing())
	h.Start(context.Background(), 10*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentProbes(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("flaky", time.Second, failingWith("err"))
	h.AddReadinessCheck("postgres", time.Second, passing())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	assert.ErrorContains(t, GoroutineCountCheck(0)(context.Background()), "exceeds threshold")

	assert.NoError(t, PingCheck(fakePinger{})(context.Background()))
	assert.ErrorContains(t, PingCheck(fakePinger{err: errors.New("refused")})(context.Background()), "ping: refused")
}
