package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/blueprint-sot/internal/config"
	"github.com/leozw/blueprint-sot/internal/core"
)

func newTestCollector(url string) *Collector {
	return NewCollector(config.MetricsConfig{
		RemoteWriteURL: url,
		OrgHeader:      "X-Scope-OrgID",
		DefaultOrg:     "platform",
		BatchSize:      2,
	}, prometheus.NewRegistry())
}

func TestRecordHealthIsOneHot(t *testing.T) {
	c := newTestCollector("")

	c.RecordHealth("t1", "inst-1", core.HealthOK)
	c.RecordHealth("t1", "inst-1", core.HealthError)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.instanceHealth.WithLabelValues("t1", "inst-1", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.instanceHealth.WithLabelValues("t1", "inst-1", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.instanceHealth.WithLabelValues("t1", "inst-1", "error")))
}

func TestRecordCloneCompletedUsesDefaultOrg(t *testing.T) {
	c := newTestCollector("")
	started := time.Now().Add(-2 * time.Second)
	completed := time.Now()

	c.RecordCloneCompleted(&core.CloneOperation{
		TemplateID:  3,
		Status:      core.CloneSucceeded,
		StartedAt:   started,
		CompletedAt: &completed,
	}, "")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cloneOperations.WithLabelValues("platform", "3", "succeeded")))
}

func TestWriteRemoteGroupsByOrg(t *testing.T) {
	orgs := make(map[string]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/push", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var req prompb.WriteRequest
		require.NoError(t, req.Unmarshal(raw))
		orgs[r.Header.Get("X-Scope-OrgID")] += len(req.Timeseries)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestCollector(server.URL)
	c.RecordCloneRequest("t1", "accepted")
	c.RecordCloneRequest("t2", "accepted")
	c.RecordCloneRequest("t2", "rejected")
	c.RecordDeclaration("t2", "inst-9", core.SyncSuccess)

	require.NoError(t, c.writeRemote(context.Background(), server.Client()))

	assert.Equal(t, 1, orgs["t1"])
	assert.Equal(t, 3, orgs["t2"])
}
