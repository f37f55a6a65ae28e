package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shiporacle/attestation/coordinator"
	"shiporacle/attestation/report"
	"shiporacle/attestation/signer"
	blockchain "shiporacle/blockchain/client"
	"shiporacle/blockchain/client/local"
	"shiporacle/blockchain/types"
	"shiporacle/config"
	core "shiporacle/ingestion/service/core"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// outOfRange reports a confidence the ledger would never accept.
type outOfRange struct{}

func (outOfRange) Model() string { return "broken" }

func (outOfRange) Generate(context.Context, string) (*report.Report, error) {
	return &report.Report{Summary: "Severity: High", ConfidenceScore: 150, Model: "broken"}, nil
}

func newServer(t *testing.T, gen report.Generator) (*httptest.Server, *local.Client, *EventHub) {
	t.Helper()
	sgn, err := signer.FromHex("9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	require.NoError(t, err)
	bcfg := &config.BlockchainConfig{BlockchainType: "local", SubmitMaxAttempts: 1, SubmitInitialBackoff: "1ms", SubmitMaxBackoff: "1ms"}
	ledger, err := local.NewLocalClient(context.Background(), bcfg, sgn.Address(), zap.NewNop())
	require.NoError(t, err)

	oracle := config.OracleConfig{Generator: config.GeneratorConfig{LLMType: "mock"}}
	oracle.SetDefaults()
	coord := coordinator.New(gen, sgn, blockchain.NewSubmitter(ledger, bcfg, zap.NewNop()), oracle.Coordinator, time.Second, zap.NewNop())
	svc := core.NewService(core.Deps{Coordinator: coord, Signer: sgn, Ledger: ledger, LedgerCfg: bcfg, Oracle: oracle}, zap.NewNop())

	hub := NewEventHub(zap.NewNop())
	ledger.Subscribe(hub)
	srv := httptest.NewServer(NewHandler(svc, hub, zap.NewNop()).Routes("/health"))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		svc.Close()
		_ = ledger.Close()
	})
	return srv, ledger, hub
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestProcessEventAndQuery(t *testing.T) {
	srv, _, _ := newServer(t, report.Fixed{})

	resp, out := postJSON(t, srv.URL+"/api/process-event", `{"event_description":"Truck delayed 2h","shipment_id":"SHIP-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "SHIP-1", out["shipment_id"])
	assert.Equal(t, "Confirmed", out["stage"])
	assert.EqualValues(t, report.MockConfidence, out["confidence_score"])
	assert.Contains(t, out, "processing_time_ms")

	get, err := http.Get(srv.URL + "/api/shipment/SHIP-1")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
	var view map[string]any
	require.NoError(t, json.NewDecoder(get.Body).Decode(&view))
	assert.Equal(t, true, view["signature_valid"])

	missing, err := http.Get(srv.URL + "/api/shipment/NOPE")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestProcessEventErrors(t *testing.T) {
	srv, _, _ := newServer(t, outOfRange{})

	resp, out := postJSON(t, srv.URL+"/api/process-event", `{"event_description":"Seal broken"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "InvalidConfidence", out["error_kind"])
	assert.Equal(t, "signing", out["error_stage"])

	resp, _ = postJSON(t, srv.URL+"/api/process-event", `{"event_description":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/api/process-event", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	plain, err := http.Post(srv.URL+"/api/process-event", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	plain.Body.Close()
	assert.Equal(t, http.StatusBadRequest, plain.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/v1/attestations", `{"event_description":"queued"}`)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestInfoAndHealth(t *testing.T) {
	srv, _, _ := newServer(t, report.Fixed{})

	for path, key := range map[string]string{"/api/info": "oracle_address", "/health": "status", "/api/llm-test": "model"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, out, key, path)
	}
}

func TestEventStream(t *testing.T) {
	srv, _, hub := newServer(t, report.Fixed{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?shipment_id=SHIP-WS"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	postJSON(t, srv.URL+"/api/process-event", `{"event_description":"Other","shipment_id":"SHIP-OTHER"}`)
	postJSON(t, srv.URL+"/api/process-event", `{"event_description":"Watched","shipment_id":"SHIP-WS"}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev types.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, types.EventCreated, ev.Kind)
	assert.Equal(t, "SHIP-WS", ev.ShipmentID)
}
