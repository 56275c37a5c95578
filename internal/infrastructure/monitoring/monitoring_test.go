package monitoring

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callnet/internal/core/domain"
	"callnet/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_CallLifecycle(t *testing.T) {
	p := NewPrometheusCollector()

	p.CallStarted(true, true)
	p.CallStarted(false, false)
	p.CallTransition(domain.CallStatusIncoming, domain.CallStatusOngoing)
	p.CallFinished(domain.CallStatusEnded, 42*time.Second)
	p.NegotiationFailed("create_offer")
	p.TransportFailure()

	assert.Equal(t, 1.0, testutil.ToFloat64(p.callsStarted.WithLabelValues("outgoing", "video")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.callsStarted.WithLabelValues("incoming", "audio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.callsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.callTransitions.WithLabelValues("INCOMING", "ONGOING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.callsFinished.WithLabelValues("ENDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.negotiationErrors.WithLabelValues("create_offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.transportFailures))
}

func TestPrometheusCollector_Relay(t *testing.T) {
	p := NewPrometheusCollector()

	p.ClientConnected()
	p.ClientConnected()
	p.ClientDisconnected()
	p.EnvelopeRelayed(domain.SignalOffer)
	p.EnvelopeRejected("rate_limited")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.clientsConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.envelopesRelayed.WithLabelValues("offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.envelopesRejected.WithLabelValues("rate_limited")))
}

func TestPrometheusCollector_Handler(t *testing.T) {
	p := NewPrometheusCollector()
	p.MediaQuality(domain.NetworkMetrics{PacketLoss: 0.02, Jitter: 5 * time.Millisecond, RoundTrip: 80 * time.Millisecond})

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "callnet_media_round_trip_seconds_count 1"))
	assert.True(t, strings.Contains(body, "callnet_media_packet_loss_ratio_count 1"))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	// two collectors in one process must not collide
	require.NotPanics(t, func() {
		NewPrometheusCollector()
		NewPrometheusCollector()
	})
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) (bool, error) { return true, nil }, time.Second, time.Second)
	assert.Equal(t, "healthy", h.CheckAll(context.Background()).Status)

	h.AddCheck("broken", func(ctx context.Context) (bool, error) { return false, errors.New("down") }, time.Second, time.Second)
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "down", status.Checks["broken"])
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, time.Second, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["slow"], "deadline")
}

func TestHealthChecker_Signaling(t *testing.T) {
	h := NewHealthChecker()
	connected, required := false, false
	h.AddSignalingCheck(func() bool { return connected }, func() bool { return required }, time.Second, time.Second)

	assert.True(t, h.IsReady(context.Background()))
	required = true
	assert.False(t, h.IsReady(context.Background()))
	connected = true
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Breaker(t *testing.T) {
	h := NewHealthChecker()
	state := circuitbreaker.StateClosed
	h.AddBreakerCheck(func() circuitbreaker.State { return state }, time.Second, time.Second)

	assert.True(t, h.IsReady(context.Background()))
	state = circuitbreaker.StateOpen
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "circuit breaker open", status.Checks["call_store_breaker"])
	state = circuitbreaker.StateHalfOpen
	assert.True(t, h.IsReady(context.Background()))
}
