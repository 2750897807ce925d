package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/internal/agents"
	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/internal/oracle"
	"github.com/dyike/CareMesh/internal/storage"
	"github.com/dyike/CareMesh/internal/storage/sqlite"
	"github.com/dyike/CareMesh/models"
)

type fixture struct {
	orc    *negotiation.Orchestrator
	ledger *sqlite.Store
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	agentOracle, err := oracle.NewChainOracle(ctx, "hospital_agent", oracle.NewMockChatModel())
	if err != nil {
		t.Fatalf("agent oracle: %v", err)
	}
	coordOracle, err := oracle.NewChainOracle(ctx, "coordinator", oracle.NewMockChatModel())
	if err != nil {
		t.Fatalf("coordinator oracle: %v", err)
	}
	profiles, err := agents.LoadRoster("")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	reg, err := agents.BuildRegistry(profiles, agentOracle)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ledger, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })

	orc, err := negotiation.New(reg, negotiation.NewSessions(),
		negotiation.WithOracle(coordOracle),
		negotiation.WithStore(storage.NewMemoryStore()),
		negotiation.WithLedger(ledger),
	)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	s := New(func() *negotiation.Orchestrator { return orc }, func() Ledger { return ledger })
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{orc: orc, ledger: ledger, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, out
}

const demoBody = `{"initiator_hospital_id":"HOSP_A","resource_type":"ventilators","quantity":5,"urgency":"high","duration_days":7,"max_budget":500000}`

func TestHealthAndAgents(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/health", "")
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health = %d %v", code, body)
	}

	code, body = f.do(t, http.MethodGet, "/api/agents", "")
	if code != http.StatusOK {
		t.Fatalf("agents = %d", code)
	}
	if int(body["count"].(float64)) != len(f.orc.ListAgents()) {
		t.Fatalf("agent count = %v", body["count"])
	}

	code, _ = f.do(t, http.MethodGet, "/api/agents/HOSP_A", "")
	if code != http.StatusOK {
		t.Fatalf("agent HOSP_A = %d", code)
	}
	code, body = f.do(t, http.MethodGet, "/api/agents/NOPE", "")
	if code != http.StatusNotFound || body["success"] != false {
		t.Fatalf("unknown agent = %d %v", code, body)
	}
}

func readSSE(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	var frames []map[string]any
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestNegotiateStreamsEvents(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/negotiate", "application/json", strings.NewReader(demoBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	sessionID := resp.Header.Get("X-Session-ID")

	frames := readSSE(t, resp)
	if len(frames) < 3 {
		t.Fatalf("frames = %d", len(frames))
	}
	if frames[0]["event"] != string(models.EventInitiated) {
		t.Fatalf("first frame = %v", frames[0]["event"])
	}
	if frames[len(frames)-2]["event"] != string(models.EventCompleted) {
		t.Fatalf("terminal frame = %v", frames[len(frames)-2]["event"])
	}
	last := frames[len(frames)-1]
	if last["event"] != streamComplete || last["session_id"] != sessionID {
		t.Fatalf("last frame = %v", last)
	}

	code, body := f.do(t, http.MethodGet, "/api/sessions/"+sessionID, "")
	if code != http.StatusOK {
		t.Fatalf("session = %d", code)
	}
	session := body["session"].(map[string]any)
	if session["status"] != string(models.StatusCompleted) {
		t.Fatalf("session status = %v", session["status"])
	}

	snap, err := f.orc.GetSession(sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	code, _ = f.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/contract", "")
	if snap.Contract != nil && code != http.StatusOK {
		t.Fatalf("contract = %d", code)
	}
	if snap.Contract == nil && code != http.StatusNotFound {
		t.Fatalf("missing contract = %d", code)
	}

	code, body = f.do(t, http.MethodGet, "/api/sessions", "")
	if code != http.StatusOK || int(body["count"].(float64)) != 1 {
		t.Fatalf("sessions = %d %v", code, body)
	}
}

func TestNegotiateRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"bad json":         `{`,
		"unknown resource": `{"initiator_hospital_id":"HOSP_A","resource_type":"helicopters","quantity":1,"urgency":"high","duration_days":1,"max_budget":10}`,
		"unknown urgency":  `{"initiator_hospital_id":"HOSP_A","resource_type":"ventilators","quantity":1,"urgency":"whenever","duration_days":1,"max_budget":10}`,
		"zero days":        `{"initiator_hospital_id":"HOSP_A","resource_type":"ventilators","quantity":1,"urgency":"high","duration_days":0,"max_budget":10}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			code, _ := f.do(t, http.MethodPost, "/api/negotiate", body)
			if code != http.StatusBadRequest {
				t.Fatalf("code = %d", code)
			}
		})
	}

	code, _ := f.do(t, http.MethodPost, "/api/negotiate",
		`{"initiator_hospital_id":"NOPE","resource_type":"ventilators","quantity":1,"urgency":"high","duration_days":1,"max_budget":10}`)
	if code != http.StatusNotFound {
		t.Fatalf("unknown initiator = %d", code)
	}
}

func TestSubmitOffer(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/offers/HOSP_A",
		`{"hospital_id":"EXT_1","hospital_name":"Outside Hospital","resource_type":"ventilators","quantity":2,"price_per_unit":"70000"}`)
	if code != http.StatusAccepted {
		t.Fatalf("submit = %d %v", code, body)
	}
	offer := body["offer"].(map[string]any)
	if offer["offer_id"] == "" || offer["source"] != "store" {
		t.Fatalf("offer = %v", offer)
	}

	code, _ = f.do(t, http.MethodPost, "/api/offers/HOSP_A",
		`{"hospital_id":"HOSP_A","resource_type":"ventilators","quantity":2,"price_per_unit":"70000"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("self offer = %d", code)
	}
}

func TestContractLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 11, 12, 0, 0, 0, 0, time.UTC)
	c := models.Contract{
		ID:          models.NewContractID(now, "ABC12345"),
		SessionID:   "s-1",
		RequesterID: "HOSP_A",
		SupplierID:  "HOSP_B",
		Resource:    models.ResourceVentilators,
		Quantity:    5,
		UnitPrice:   decimal.NewFromInt(85000),
		TotalPrice:  decimal.NewFromInt(425000),
		Status:      models.ContractPendingSignature,
		CreatedAt:   now,
	}
	if err := f.ledger.StoreContract(ctx, c); err != nil {
		t.Fatalf("store: %v", err)
	}

	code, body := f.do(t, http.MethodGet, "/api/contracts?requester=HOSP_A", "")
	if code != http.StatusOK || int(body["count"].(float64)) != 1 {
		t.Fatalf("list = %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/api/contracts/"+c.ID+"/activate", "")
	if code != http.StatusOK {
		t.Fatalf("activate = %d %v", code, body)
	}
	if body["contract"].(map[string]any)["status"] != string(models.ContractActive) {
		t.Fatalf("status = %v", body["contract"])
	}

	code, _ = f.do(t, http.MethodPost, "/api/contracts/"+c.ID+"/activate", "")
	if code != http.StatusConflict {
		t.Fatalf("re-activate = %d", code)
	}
	code, _ = f.do(t, http.MethodPost, "/api/contracts/"+c.ID+"/expire", "")
	if code != http.StatusOK {
		t.Fatalf("expire = %d", code)
	}
	code, _ = f.do(t, http.MethodGet, "/api/contracts/missing", "")
	if code != http.StatusNotFound {
		t.Fatalf("missing = %d", code)
	}
}

func TestArchivedSessionFallback(t *testing.T) {
	f := newFixture(t)
	snap := models.SessionSnapshot{ID: "archived-1", InitiatorID: "HOSP_A", Status: models.StatusFailed}
	if err := f.ledger.ArchiveSession(context.Background(), snap); err != nil {
		t.Fatalf("archive: %v", err)
	}

	code, body := f.do(t, http.MethodGet, "/api/sessions/archived-1", "")
	if code != http.StatusOK || body["archived"] != true {
		t.Fatalf("archived = %d %v", code, body)
	}
	code, _ = f.do(t, http.MethodGet, "/api/sessions/never", "")
	if code != http.StatusNotFound {
		t.Fatalf("unknown session = %d", code)
	}
}

func TestWebSocketNegotiation(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/negotiate"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(10 * time.Second))

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"resource_type":"nope"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply map[string]any
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply["success"] != false {
		t.Fatalf("expected error reply, got %v", reply)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(demoBody)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var kinds []string
	for {
		var frame map[string]any
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		kind, _ := frame["event"].(string)
		kinds = append(kinds, kind)
		if kind == streamComplete {
			break
		}
	}
	if kinds[0] != string(models.EventInitiated) || kinds[len(kinds)-2] != string(models.EventCompleted) {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrInvalidRequest, http.StatusBadRequest},
		{models.ErrInvalidTransition, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
