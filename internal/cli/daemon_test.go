package cli

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/iatisync/internal/config"
	"github.com/lherron/iatisync/internal/db"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/importer"
	"github.com/lherron/iatisync/internal/logging"
	"github.com/lherron/iatisync/internal/store"
	"github.com/lherron/iatisync/internal/testutil"
	"github.com/lherron/iatisync/internal/webhooks"
)

const importBody = `{
  "activityId": "act-1",
  "fields": {"sectors": true, "transactions": true},
  "iatiData": {
    "sectors": [{"code": "11220", "percentage": 100}],
    "transactions": [{"type": "2", "date": "2024-01-01", "value": 1000, "currency": "USD"}]
  }
}`

func newTestDaemon(t *testing.T, token string) (*httptest.Server, *db.DB) {
	t.Helper()
	database, _ := testutil.TempDB(t)
	cfg := &config.Config{DefaultActor: "daemon-test", Environment: "development"}
	server := newDaemonServer(store.New(database), cfg, logging.Discard(), token,
		importer.WithClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }))

	ts := httptest.NewServer(server.routes())
	t.Cleanup(ts.Close)
	return ts, database
}

func do(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestDaemon_HealthAuth(t *testing.T) {
	ts, _ := newTestDaemon(t, "secret")

	resp, _ := do(t, http.MethodGet, ts.URL+"/v1/health", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/health", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	for _, wrong := range []string{"Bearer secre", "Bearer secrets", "Bearer SECRET", "Basic c2VjcmV0"} {
		resp, _ = do(t, http.MethodGet, ts.URL+"/v1/health", "", map[string]string{"Authorization": wrong})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, wrong)
	}

	resp, body := do(t, http.MethodGet, ts.URL+"/v1/health", "", map[string]string{"X-Iatisyncd-Token": "secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ok":true`)
}

func TestDaemon_ImportAndLogs(t *testing.T) {
	ts, database := newTestDaemon(t, "")
	testutil.SeedActivity(t, database, "act-1")

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/import", importBody,
		map[string]string{"X-Iatisync-Actor": "alice", "X-Request-Id": "req-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-Id"))

	var out importer.Response
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "act-1", out.ActivityID)
	assert.Equal(t, []string{"sectors", "transactions"}, out.FieldsUpdated)
	assert.Equal(t, "success", out.Summary.SyncStatus)
	assert.Equal(t, 1, out.Summary.TransactionsAdded)
	assert.NotContains(t, string(body), `"warnings"`)

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/import-logs?activity=act-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page importLogsPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, out.ImportLogID, page.Items[0].ID)
	assert.Equal(t, "api", page.Items[0].FileName)
	require.NotNil(t, page.Items[0].Actor)
	assert.Equal(t, "alice", *page.Items[0].Actor)
	assert.Empty(t, page.NextCursor)

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/import-logs/"+out.ImportLogID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entry domain.ImportLog
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Equal(t, domain.ImportStatus("success"), entry.Status)
}

func TestDaemon_ImportByPath(t *testing.T) {
	ts, database := newTestDaemon(t, "")
	testutil.SeedActivity(t, database, "act-2")

	body := `{"fields": {"sectors": true}, "iatiData": {"sectors": [{"code": "15110", "percentage": 100}]}}`
	resp, data := do(t, http.MethodPost, ts.URL+"/v1/activities/act-2/import", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, 1, testutil.CountRows(t, database, "activity_sectors", "activity_id = ?", "act-2"))

	mismatch := `{"activityId": "other", "fields": {"sectors": true}, "iatiData": {}}`
	resp, data = do(t, http.MethodPost, ts.URL+"/v1/activities/act-2/import", mismatch, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), `"code":"invalid_request"`)
}

func TestDaemon_ImportErrors(t *testing.T) {
	ts, database := newTestDaemon(t, "")

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed JSON", `{"activityId":`, http.StatusBadRequest, "invalid_request"},
		{"unknown envelope field", `{"activityId": "act-1", "extra": 1}`, http.StatusBadRequest, "invalid_request"},
		{"missing activity id", `{"fields": {"sectors": true}}`, http.StatusBadRequest, "invalid_request"},
		{"unknown activity", `{"activityId": "missing", "fields": {"sectors": true}, "iatiData": {}}`, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := do(t, http.MethodPost, ts.URL+"/v1/import", tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode, string(data))

			var body importer.ErrorResponse
			require.NoError(t, json.Unmarshal(data, &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.code, body.Details["code"])
		})
	}

	assert.Equal(t, 0, testutil.CountRows(t, database, "import_logs", ""))
}

func TestDaemon_ImportLogErrors(t *testing.T) {
	ts, _ := newTestDaemon(t, "")

	resp, data := do(t, http.MethodGet, ts.URL+"/v1/import-logs/IMP-99999", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(data), `"code":"not_found"`)

	resp, data = do(t, http.MethodGet, ts.URL+"/v1/import-logs/ORG-00001", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), `"code":"invalid_request"`)

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/import-logs?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = do(t, http.MethodGet, ts.URL+"/v1/import-logs", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"items": []}`, string(data))

	forged := base64.URLEncoding.EncodeToString([]byte(`{"sort_fields":["1=1) OR (1"],"last_values":[0],"last_id":"x"}`))
	resp, data = do(t, http.MethodGet, ts.URL+"/v1/import-logs?activity=act-1&cursor="+forged, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), `"code":"invalid_request"`)
}

func TestDaemon_RoutingErrors(t *testing.T) {
	ts, _ := newTestDaemon(t, "")

	resp, _ := do(t, http.MethodGet, ts.URL+"/v1/import", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDaemon_Metrics(t *testing.T) {
	ts, database := newTestDaemon(t, "")
	testutil.SeedActivity(t, database, "act-1")

	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/import", importBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	do(t, http.MethodGet, ts.URL+"/v1/import-logs/IMP-99999", "", nil)

	resp, data := do(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(data)
	assert.Contains(t, text, `iatisync_import_runs_total{status="success"} 1`)
	assert.Contains(t, text, `iatisync_http_requests_total{result="2xx",route="/v1/import"} 1`)
	assert.Contains(t, text, `iatisync_http_requests_total{result="4xx",route="/v1/import-logs/{id}"} 1`)
	assert.Contains(t, text, "go_goroutines")
}

func TestDaemon_ImportWebhook(t *testing.T) {
	received := make(chan webhooks.Payload, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhooks.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			received <- p
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	database, _ := testutil.TempDB(t)
	testutil.SeedActivity(t, database, "act-1")
	cfg := &config.Config{DefaultActor: "daemon-test", WebhookURLs: []string{hook.URL + "/{activity_id}"}}
	server := newDaemonServer(store.New(database), cfg, logging.Discard(), "")
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/import", importBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out importer.Response
	require.NoError(t, json.Unmarshal(body, &out))

	select {
	case p := <-received:
		assert.Equal(t, "import.completed", p.Event)
		assert.Equal(t, out.ImportLogID, p.ImportLogID)
		assert.Equal(t, "act-1", p.ActivityID)
		assert.Equal(t, "success", p.Status)
		assert.Equal(t, "api", p.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestValidToken(t *testing.T) {
	assert.True(t, validToken("secret", "secret"))
	assert.False(t, validToken("secre", "secret"))
	assert.False(t, validToken("", "secret"))
	assert.False(t, validToken("secret ", "secret"))
}
