package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	routingKey string
	message    interface{}
	headers    map[string]string
	err        error
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	p.routingKey, p.message, p.headers = routingKey, message, headers
	return p.err
}

func TestHTTPMetricsMiddlewareCountsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/sessions/:session_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/sessions/:session_id", "204"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/9", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/sessions/:session_id", "204"))

	assert.Equal(t, before+1, after)
}

func TestPublishWSEventUsesDefaultPublisher(t *testing.T) {
	pub := &recordingPublisher{}
	SetPublisher(pub)
	defer SetPublisher(nil)

	PublishWSEvent(context.Background(), WSEvent{SessionID: 2, Event: "ws_connect"}, "req-1", "trace-1")

	assert.Equal(t, WSRoutingKey, pub.routingKey)
	env, ok := pub.message.(EventEnvelope)
	require.True(t, ok)
	assert.Equal(t, "ws_connect", env.EventName)
	assert.Equal(t, map[string]string{"x-request-id": "req-1", "trace_id": "trace-1"}, pub.headers)
}

func TestPublishEventCountsFailures(t *testing.T) {
	SetPublisher(&recordingPublisher{err: assert.AnError})
	defer SetPublisher(nil)

	before := testutil.ToFloat64(amqpPublishErrorsTotal)
	require.Error(t, PublishEvent(context.Background(), "k", "v", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(amqpPublishErrorsTotal))
}

func TestObserveRegistryOp(t *testing.T) {
	before := testutil.ToFloat64(registryOpsTotal.WithLabelValues("join", "error"))
	ObserveRegistryOp("join", assert.AnError)
	assert.Equal(t, before+1, testutil.ToFloat64(registryOpsTotal.WithLabelValues("join", "error")))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", IPFromRequest(req))
}

func TestRequestIDFromRequestGeneratesWhenMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.NotEmpty(t, RequestIDFromRequest(req))
	req.Header.Set("X-Request-Id", "abc")
	assert.Equal(t, "abc", RequestIDFromRequest(req))
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "svc")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
