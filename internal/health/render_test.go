package health_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-tracker/internal/health"
)

func sampleReport() health.Report {
	fell := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return health.Report{
		Status:    health.StatusDegraded,
		CheckedAt: fell.Add(time.Minute),
		Components: []health.ComponentReport{
			{Role: health.RoleRecords, Backend: "postgres", Status: health.StatusHealthy, Latency: 3 * time.Millisecond},
			{Role: health.RoleBlobPrimary, Backend: "s3", Status: health.StatusUnhealthy, ErrorKind: "connectivity", Error: "dial tcp: refused"},
		},
		LastFallback: &fell,
	}
}

func TestReportRenderText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, sampleReport().Render(&buf, "text"))
	out := buf.String()
	assert.Contains(t, out, "status: degraded")
	assert.Contains(t, out, "last fallback: 2024-05-01T12:00:00Z")
	assert.Contains(t, out, "ROLE")
	assert.Contains(t, out, "connectivity: dial tcp: refused")
}

func TestReportRenderJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, sampleReport().Render(&buf, "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "degraded", decoded["status"])
	assert.Len(t, decoded["components"], 2)
}

func TestReportRenderYAMLAndUnknown(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, sampleReport().Render(&buf, "yaml"))
	assert.Contains(t, buf.String(), "status: degraded")
	assert.Contains(t, buf.String(), "role: blob_primary")

	require.Error(t, sampleReport().Render(&buf, "xml"))
}
