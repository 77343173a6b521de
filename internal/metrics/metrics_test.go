package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telecom-dialer/internal/ami"
	"telecom-dialer/internal/ami/amitest"
	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	var rec campaigns.Recorder = m

	rec.Dispatch(campaigns.DispatchAccepted)
	rec.Dispatch(campaigns.DispatchAccepted)
	rec.Dispatch(campaigns.DispatchRejected)
	rec.Outcome(calls.OutcomeBusy)
	rec.InFlight("c1", 3)

	if got := testutil.ToFloat64(m.dispatches.WithLabelValues(campaigns.DispatchAccepted)); got != 2 {
		t.Fatalf("expected 2 accepted, got %v", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues(string(calls.OutcomeBusy))); got != 1 {
		t.Fatalf("expected 1 busy, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight.WithLabelValues("c1")); got != 3 {
		t.Fatalf("expected 3 in flight, got %v", got)
	}

	rec.InFlight("c1", 0)
	if n := testutil.CollectAndCount(m.inFlight); n != 0 {
		t.Fatalf("expected in-flight series removed, got %d", n)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/campaigns/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/campaigns/abc", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	got := testutil.ToFloat64(m.httpRequests.With(prometheus.Labels{"method": "GET", "route": "/v1/campaigns/:id", "status": "204"}))
	if got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("expected exposition output, got %q", w.Body.String())
	}
}

func TestWatchSessionTracksState(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "pw")
	session := ami.NewSession(ami.Config{Addr: srv.Addr(), Username: "dialer", Secret: "pw", ConnectTimeout: time.Second}, nil)
	defer session.Close()

	m := New(prometheus.NewRegistry())
	m.WatchSession(session)
	if got := testutil.ToFloat64(m.sessionState.WithLabelValues(string(ami.StateDisconnected))); got != 1 {
		t.Fatalf("expected disconnected=1, got %v", got)
	}

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := testutil.ToFloat64(m.sessionState.WithLabelValues(string(ami.StateConnected))); got != 1 {
		t.Fatalf("expected connected=1, got %v", got)
	}

	srv.DropConnections()
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.reconnects) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("connection loss not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
