package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.PoliciesProcessed.Add(3)
	a.OnCRMRetry(1, nil)
	a.ResetRequests.WithLabelValues("200").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(a.PoliciesProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CRMRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ResetRequests.WithLabelValues("200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PoliciesProcessed))
}

func TestPush_Disabled(t *testing.T) {
	assert.NoError(t, New().Push(context.Background(), "", "marx"))
}

func TestPush_SendsToGateway(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.AlertsRaised.Add(2)
	require.NoError(t, m.Push(context.Background(), srv.URL, "marx_reconcile"))

	assert.Equal(t, "/metrics/job/marx_reconcile", path)
	assert.NotEmpty(t, body)
}

func TestPush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().Push(context.Background(), srv.URL, "marx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: push")
}
