package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerRecord(t *testing.T) {
	var buf bytes.Buffer
	SetAuditLogger(NewAuditLogger(&buf))
	t.Cleanup(func() { SetAuditLogger(nil) })

	RecordArtifactAudit(context.Background(), "evict", "search", "/large_results/c1_20260101000000", "success", map[string]interface{}{
		"original_length": 90000,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "artifact", entry["type"])
	assert.Equal(t, "search", entry["actor"])
	assert.Equal(t, "evict", entry["action"])

	md := entry["metadata"].(map[string]interface{})
	assert.Equal(t, "/large_results/c1_20260101000000", md["path"])
	assert.EqualValues(t, 90000, md["original_length"])
}

func TestInitAuditLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { SetAuditLogger(nil) })

	RecordCircuitAudit(context.Background(), "fetch", "open", nil)
	RecordConfigAudit(context.Background(), "reload", "watcher", map[string]interface{}{"tools": 2})
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"circuit"`)
	assert.Contains(t, lines[1], `"type":"config"`)

	// Closing twice is harmless
	assert.NoError(t, GetAuditLogger().Close())
}

func TestGetAuditLoggerDiscardsByDefault(t *testing.T) {
	SetAuditLogger(nil)
	a := GetAuditLogger()
	require.NotNil(t, a)
	a.Record(context.Background(), AuditEvent{Type: "artifact", Action: "evict"})
}

func TestMetricsHandlerExposesHarnessMetrics(t *testing.T) {
	RecordToolExecution("search", 120*time.Millisecond, true)
	RecordToolError("search", "timeout")
	RecordToolRetry("search")
	SetCircuitOpen("search", true)
	RecordEviction("search", 90000)
	RecordPhaseTransition("idle", "processing_input", true)
	SetTrackedSessions(3)

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `tool_execution_total{status="success",tool="search"}`)
	assert.Contains(t, text, "tool_retries_total")
	assert.Contains(t, text, "tracked_sessions 3")
}
