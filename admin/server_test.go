package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/fieldbus/simbus"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/rig"
)

func newRig(t *testing.T, start bool) (*rig.Controller, *simbus.Bus) {
	t.Helper()

	cfg := simbus.DefaultPlantConfig()
	cfg.RiseRate = 0
	bus := simbus.New(simbus.WithPlant(cfg))
	ctrl := rig.New(bus,
		rig.WithLogger(logger.NewNop()),
		rig.WithJournal(eventlog.New(eventlog.WithLogger(logger.NewNop()))),
		rig.WithCyclePeriod(2*time.Millisecond),
		rig.WithoutLogFile(),
		rig.WithReportDir(t.TempDir()),
		rig.WithTestTiming(10*time.Millisecond, 10*time.Millisecond),
		rig.WithPressureSampling(10*time.Millisecond),
	)
	if start {
		require.NoError(t, ctrl.Start(context.Background()))
	}
	t.Cleanup(func() { _ = ctrl.Close(context.Background()) })

	return ctrl, bus
}

func newTestServer(t *testing.T, r Rig) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(NewServer(r, WithLogger(logger.NewNop())).Handler())
	t.Cleanup(srv.Close)

	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	return resp, buf.Bytes()
}

func TestServer_Health(t *testing.T) {
	ctrl, _ := newRig(t, true)
	srv := newTestServer(t, ctrl)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Operational", got["status"])
	assert.Contains(t, got["report"], "Operational")
}

func TestServer_Relays(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	ctrl, bus := newRig(t, true)
	srv := newTestServer(t, ctrl)

	resp, _ := do(t, http.MethodPut, srv.URL+"/api/relays/3", `{"on":true}`)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Eventually(func() bool { return bus.Valves() == 0x04 }, time.Second, 2*time.Millisecond)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/relays/3/toggle", "")
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.JSONEq(`{"channel":3,"on":false}`, string(body))

	resp, body = do(t, http.MethodPut, srv.URL+"/api/relays/9", `{"on":true}`)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	assert.Contains(string(body), "invalid channel")

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/relays/1", `{"on":`)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/relays", `{"on":true}`)
	require.Equal(http.StatusOK, resp.StatusCode)
	resp, body = do(t, http.MethodGet, srv.URL+"/api/relays", "")
	require.Equal(http.StatusOK, resp.StatusCode)
	var states []relayStateBody
	require.NoError(json.Unmarshal(body, &states))
	require.Len(states, 4)
	for _, st := range states {
		assert.True(st.On)
	}
}

func TestServer_Sensors(t *testing.T) {
	ctrl, bus := newRig(t, true)
	bus.SetAllPressures(40)
	srv := newTestServer(t, ctrl)

	require.Eventually(t, func() bool {
		resp, body := do(t, http.MethodGet, srv.URL+"/api/pressures/2", "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var rd struct {
			Pressure float64 `json:"pressure_bar"`
		}
		return json.Unmarshal(body, &rd) == nil && rd.Pressure > 39
	}, time.Second, 5*time.Millisecond)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/pressures", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []map[string]any
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Len(t, all, 4)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/snapshot", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_NotStarted(t *testing.T) {
	ctrl, _ := newRig(t, false)
	srv := newTestServer(t, ctrl)

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/pressures", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/tests/support", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/tests/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Tests(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	ctrl, _ := newRig(t, true)
	srv := newTestServer(t, ctrl)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/tests/support", `{"target_bar":25,"timeout_ms":60000}`)
	require.Equal(http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(`{"kind":"support","target_bar":25,"timeout_ms":60000}`, string(body))
	require.Eventually(ctrl.TestRunning, time.Second, time.Millisecond)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/tests/retract", "")
	assert.Equal(http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/tests", "")
	assert.Equal(http.StatusNoContent, resp.StatusCode)
	require.Eventually(func() bool { return !ctrl.TestRunning() }, time.Second, time.Millisecond)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/tests", "")
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.JSONEq(`{"status":"Cancelled","running":false}`, string(body))

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/tests/support", `{"timeout_ms":0}`)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Reliability(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	ctrl, _ := newRig(t, true)
	srv := newTestServer(t, ctrl)

	resp, _ := do(t, http.MethodDelete, srv.URL+"/api/reliability", "")
	assert.Equal(http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/reliability", `{"support_target_bar":-1}`)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/reliability", `{"support_timeout_ms":60000}`)
	require.Equal(http.StatusAccepted, resp.StatusCode)
	assert.Contains(string(body), `"support_target_bar":22`)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/reliability", "")
	assert.Equal(http.StatusConflict, resp.StatusCode)

	resp, body = do(t, http.MethodDelete, srv.URL+"/api/reliability?force=true", "")
	require.Equal(http.StatusOK, resp.StatusCode)
	var st map[string]any
	require.NoError(json.Unmarshal(body, &st))
	assert.Contains(st, "total_cycles")

	resp, body = do(t, http.MethodPost, srv.URL+"/api/reliability/report", "")
	require.Equal(http.StatusCreated, resp.StatusCode)
	assert.Contains(string(body), "reliability_report_")
}

func TestServer_Logs(t *testing.T) {
	ctrl, _ := newRig(t, true)
	srv := newTestServer(t, ctrl)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/logs?n=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(body, &entries))
	assert.NotEmpty(t, entries)
	assert.LessOrEqual(t, len(entries), 5)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/logs?n=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Events(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	ctrl, _ := newRig(t, true)
	srv := newTestServer(t, ctrl)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?streams=readings,logs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(err)
	defer conn.Close()

	require.NoError(conn.WriteJSON(Command{Command: "set_relay", Channel: 4, On: true}))
	require.NoError(conn.WriteJSON(Command{Command: "explode"}))

	seen := map[string]bool{}
	var replies []commandReply
	require.NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	for len(replies) < 2 || !seen[StreamReadings] || !seen[StreamLogs] {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(conn.ReadJSON(&env))
		seen[env.Type] = true
		if env.Type == "reply" {
			var r commandReply
			require.NoError(json.Unmarshal(env.Data, &r))
			replies = append(replies, r)
		}
	}

	assert.False(seen[StreamTests])
	assert.Equal(commandReply{Command: "set_relay", OK: true}, replies[0])
	assert.Equal("explode", replies[1].Command)
	assert.False(replies[1].OK)

	on, err := ctrl.RelayState(4)
	require.NoError(err)
	assert.True(on)
}
