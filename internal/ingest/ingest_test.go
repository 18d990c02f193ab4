package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.csv")
	content := "x,y,color\n-2.0,-2.0,red\n2.0,2.0,blue\n1.9,,blue\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	frame, err := ReadCSV(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "color"}, frame.Columns)
	assert.Equal(t, 3, frame.Len())
	assert.Equal(t, "red", frame.Cell(0, "color"))
	assert.Equal(t, "", frame.Cell(2, "y"), "empty cell should stay empty")
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV("/nonexistent/file.csv")
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "ragged.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2,3\n"), 0o600))
	_, err = ReadCSV(path)
	assert.Error(t, err, "ragged record should fail")

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = ReadCSV(empty)
	assert.Error(t, err, "missing header should fail")
}

func TestClient_FetchRows_Pages(t *testing.T) {
	// 120 rows served in pages of 50.
	total := 120
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/rows", r.URL.Path)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var rows []map[string]string
		for i := offset; i < offset+limit && i < total; i++ {
			rows = append(rows, map[string]string{"id": strconv.Itoa(i), "color": "red"})
		}
		json.NewEncoder(w).Encode(map[string]any{"rows": rows, "total": total})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	rows, err := client.FetchRows(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, rows, total)

	// Service order survives paging.
	assert.Equal(t, "0", rows[0]["id"])
	assert.Equal(t, "119", rows[total-1]["id"])
}

func TestClient_FetchRows_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.FetchRows(context.Background(), 50)
	assert.Error(t, err)
}

func TestClient_FetchFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"rows": []map[string]string{
			{"x": "1", "color": "red"},
			{"x": "2"}, // color missing
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	frame, err := client.FetchFrame(context.Background(), []string{"x", "color"}, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, frame.Len())
	assert.Equal(t, "red", frame.Cell(0, "color"))
	assert.Equal(t, "", frame.Cell(1, "color"), "absent key should become missing cell")
}

func TestClient_FetchFrame_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"rows": []map[string]string{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.FetchFrame(context.Background(), []string{"x"}, 50)
	assert.Error(t, err)
}

// Mock WebSocket feed server for testing
type mockFeedServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	rows     []map[string]string
	stream   string
}

func newMockFeedServer(stream string, rows []map[string]string) *mockFeedServer {
	m := &mockFeedServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rows:   rows,
		stream: stream,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleWebSocket))
	return m
}

func (m *mockFeedServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	// Wait for the subscription, confirm it, then push every row.
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var sub map[string]any
	if err := json.Unmarshal(msg, &sub); err == nil && sub["op"] == "subscribe" {
		conn.WriteJSON(map[string]any{"op": "subscribe", "success": true})
	}

	for _, row := range m.rows {
		if err := conn.WriteJSON(map[string]any{"stream": m.stream, "data": row}); err != nil {
			return
		}
	}

	// Hold the connection open until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *mockFeedServer) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func TestFeed_Stream_DeliversRowsInOrder(t *testing.T) {
	var want []map[string]string
	for i := 0; i < 5; i++ {
		want = append(want, map[string]string{"id": fmt.Sprintf("%d", i), "color": "red"})
	}
	server := newMockFeedServer("feedback", want)
	defer server.server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows := make(chan map[string]string, 10)
	errs := make(chan error, 10)

	feed := NewFeed(server.url())
	go feed.Stream(ctx, "feedback", rows, errs, time.Second)

	for i := 0; i < len(want); i++ {
		select {
		case row := <-rows:
			assert.Equal(t, want[i]["id"], row["id"], "rows should arrive in feed order")
		case <-ctx.Done():
			t.Fatalf("timed out waiting for row %d", i)
		}
	}
	cancel()
}

func TestFeed_Stream_IgnoresOtherStreams(t *testing.T) {
	server := newMockFeedServer("other", []map[string]string{{"id": "1"}})
	defer server.server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	rows := make(chan map[string]string, 10)
	errs := make(chan error, 10)

	feed := NewFeed(server.url())
	go feed.Stream(ctx, "feedback", rows, errs, time.Second)

	select {
	case row := <-rows:
		t.Fatalf("expected no rows from a different stream, got %v", row)
	case <-ctx.Done():
	}
}

func TestFeed_Stream_ReconnectReportsError(t *testing.T) {
	// A server that immediately rejects connections forces the backoff path.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rows := make(chan map[string]string, 1)
	errs := make(chan error, 10)

	feed := NewFeed("ws" + strings.TrimPrefix(server.URL, "http"))
	go feed.Stream(ctx, "feedback", rows, errs, time.Second)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrReconnect)
	case <-ctx.Done():
		t.Fatal("expected a reconnect error to be reported")
	}
}
