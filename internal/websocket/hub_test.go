package websocket

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/auth"
	"github.com/dennisdiepolder/kpiboard/internal/config"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type fakeBoards map[string]types.Leaderboard

func (f fakeBoards) Get(monthID string) (types.Leaderboard, bool) {
	lb, ok := f[monthID]
	return lb, ok
}

type fakeWatcher struct {
	mu     sync.Mutex
	months []string
}

func (f *fakeWatcher) Watch(monthID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.months = append(f.months, monthID)
}

func (f *fakeWatcher) watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.months...)
}

func testBoard(month string) types.Leaderboard {
	return types.Leaderboard{
		MonthID:  month,
		Rows:     []types.RankingRow{{Rank: 1, AgentID: "a2", Overall: 94}, {Rank: 2, AgentID: "a1", Overall: 68.27}},
		Failures: []types.AgentFailure{{AgentID: "a3", Error: "timeout"}},
		Ranked:   2,
	}
}

func newTestClient(hub *Hub, id string, claims *auth.Claims, month string) *Client {
	return &Client{id: id, hub: hub, send: make(chan []byte, 10), claims: claims, month: month}
}

func receive(t *testing.T, c *Client) types.LeaderboardMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg types.LeaderboardMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid message: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s did not receive a message", c.id)
	}
	return types.LeaderboardMessage{}
}

func TestNewHub(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(nil, nil, logger)

	if hub == nil {
		t.Fatal("expected hub to be created")
	}
	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}
	if hub.broadcast == nil || hub.deliver == nil {
		t.Error("expected broadcast channels to be initialized")
	}
	if hub.register == nil || hub.unregister == nil {
		t.Error("expected register channels to be initialized")
	}
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub(nil, nil, zerolog.Nop())

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	hub.mu.Lock()
	hub.clients[&Client{id: "test1"}] = true
	hub.clients[&Client{id: "test2"}] = true
	hub.mu.Unlock()

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(nil, nil, zerolog.Nop())
	go hub.Run()

	client := newTestClient(hub, "test-client", nil, "2025-03")

	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after register, got %d", hub.ClientCount())
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestHubPublishFiltersPerClient(t *testing.T) {
	hub := NewHub(nil, nil, zerolog.Nop())
	go hub.Run()

	admin := newTestClient(hub, "admin", &auth.Claims{AgentID: "root", Role: types.RoleAdmin}, "2025-03")
	agent := newTestClient(hub, "agent", &auth.Claims{AgentID: "a1", Role: types.RoleAgent}, "2025-03")
	outsider := newTestClient(hub, "outsider", &auth.Claims{AgentID: "a9", Role: types.RoleAgent}, "2025-03")
	otherMonth := newTestClient(hub, "other", &auth.Claims{AgentID: "root", Role: types.RoleAdmin}, "2025-04")

	for _, c := range []*Client{admin, agent, outsider, otherMonth} {
		hub.register <- c
	}

	hub.PublishLeaderboard(testBoard("2025-03"))

	msg := receive(t, admin)
	if msg.Type != "leaderboard" || len(msg.Leaderboard.Rows) != 2 || len(msg.Leaderboard.Failures) != 1 {
		t.Errorf("admin expected the full board, got %+v", msg)
	}

	msg = receive(t, agent)
	if len(msg.Leaderboard.Rows) != 1 || msg.Leaderboard.Rows[0].AgentID != "a1" {
		t.Errorf("agent expected only its own row, got %+v", msg.Leaderboard.Rows)
	}
	if msg.Leaderboard.Failures != nil {
		t.Error("agents must not see fetch failures")
	}

	msg = receive(t, outsider)
	if len(msg.Leaderboard.Rows) != 0 {
		t.Errorf("agent outside the top rows expected no rows, got %+v", msg.Leaderboard.Rows)
	}

	select {
	case data := <-otherMonth.send:
		t.Errorf("client watching another month received %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSubscribeDeliversCachedBoard(t *testing.T) {
	boards := fakeBoards{"2025-02": testBoard("2025-02")}
	watcher := &fakeWatcher{}
	hub := NewHub(boards, watcher, zerolog.Nop())
	go hub.Run()

	client := newTestClient(hub, "admin", &auth.Claims{AgentID: "root", Role: types.RoleAdmin}, "2025-03")
	hub.register <- client

	client.handleMessage([]byte(`{"type":"subscribe","month":"2025-02"}`))

	msg := receive(t, client)
	if msg.Leaderboard.MonthID != "2025-02" {
		t.Errorf("expected cached 2025-02 board, got %s", msg.Leaderboard.MonthID)
	}
	if client.Month() != "2025-02" {
		t.Errorf("expected client month 2025-02, got %s", client.Month())
	}

	client.handleMessage([]byte(`{"type":"subscribe","month":"2025-13"}`))
	client.handleMessage([]byte(`not json`))
	if client.Month() != "2025-02" {
		t.Error("invalid subscribe messages must be ignored")
	}

	if got := watcher.watched(); len(got) != 1 || got[0] != "2025-02" {
		t.Errorf("expected watcher to see 2025-02 once, got %v", got)
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(fakeBoards{}, &fakeWatcher{}, zerolog.Nop())
	go hub.Run()

	cfg := &config.Config{
		AllowedOrigins: []string{"http://localhost:5173"},
		PongWait:       time.Minute,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 512,
	}
	handler := NewHandler(hub, cfg, zerolog.Nop())
	withUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithUser(r.Context(), &auth.Claims{AgentID: "boss", Role: types.RoleAdmin})
		handler.ServeHTTP(w, r.WithContext(ctx))
	})

	server := httptest.NewServer(withUser)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?month=2025-03"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected dial from a foreign origin to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for a foreign origin, got %v", resp)
	}

	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err = websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("expected the dashboard origin to connect: %v", err)
	}
	conn.Close()
}

func TestHandlerPushesLeaderboards(t *testing.T) {
	boards := fakeBoards{"2025-03": testBoard("2025-03")}
	hub := NewHub(boards, &fakeWatcher{}, zerolog.Nop())
	go hub.Run()

	cfg := &config.Config{
		AllowedOrigins: []string{"*"},
		PongWait:       time.Minute,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 512,
	}
	handler := NewHandler(hub, cfg, zerolog.Nop())
	withUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithUser(r.Context(), &auth.Claims{AgentID: "a1", Role: types.RoleAgent})
		handler.ServeHTTP(w, r.WithContext(ctx))
	})

	server := httptest.NewServer(withUser)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?month=2025-03"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readBoard := func() types.LeaderboardMessage {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg types.LeaderboardMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return msg
	}

	msg := readBoard()
	if len(msg.Leaderboard.Rows) != 1 || msg.Leaderboard.Rows[0].AgentID != "a1" {
		t.Errorf("expected cached board with own row, got %+v", msg.Leaderboard.Rows)
	}

	next := testBoard("2025-03")
	next.Rows[1].Overall = 70
	hub.PublishLeaderboard(next)

	msg = readBoard()
	if msg.Leaderboard.Rows[0].Overall != 70 {
		t.Errorf("expected pushed board, got %+v", msg.Leaderboard.Rows)
	}
}

func TestHandlerRejectsInvalidMonth(t *testing.T) {
	hub := NewHub(nil, nil, zerolog.Nop())
	handler := NewHandler(hub, &config.Config{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/ws?month=2025-3", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.Claims{AgentID: "a1"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without claims, got %d", rec.Code)
	}
}
