package cwrx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cwrx/Classifier"
)

// newTestTelemetry 起一个只挂 /ws 处理器的测试服务器并接入一个客户端
func newTestTelemetry(t *testing.T) (*TelemetryServer, *websocket.Conn) {
	t.Helper()

	ts := NewTelemetryServer(":0", testLogger())
	srv := httptest.NewServer(http.HandlerFunc(ts.handleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitClientCount(t, ts, 1)
	return ts, conn
}

func clientCount(ts *TelemetryServer) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.clients)
}

func waitClientCount(t *testing.T, ts *TelemetryServer, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if clientCount(ts) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients, got %d", want, clientCount(ts))
}

func TestTelemetryServer_PushCallsign(t *testing.T) {
	ts, conn := newTestTelemetry(t)

	ts.PushCallsign(Classifier.DetectedCallsign{Call: "K4SWL", Context: Classifier.ContextDE})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var env pushEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if env.Type != "callsign" || env.Callsign == nil || env.Callsign.Call != "K4SWL" {
		t.Errorf("Unexpected envelope: %+v", env)
	}
}

func TestTelemetryServer_SnapshotThrottle(t *testing.T) {
	ts, conn := newTestTelemetry(t)

	ts.PushSnapshot(Snapshot{State: "listening"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var env pushEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if env.Type != "snapshot" || env.Snapshot == nil {
		t.Fatalf("Unexpected envelope: %+v", env)
	}

	// 节流窗口内的第二帧必须被丢弃
	ts.PushSnapshot(Snapshot{State: "listening"})
	conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Snapshot within the throttle window must not be pushed")
	}
}

// TestTelemetryServer_DropsDeadClient 客户端断开后，推送路径必须
// 把失效连接清出去，而不是反复往死连接上写
func TestTelemetryServer_DropsDeadClient(t *testing.T) {
	ts, conn := newTestTelemetry(t)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ts.PushCallsign(Classifier.DetectedCallsign{Call: "W1AW", Context: Classifier.ContextUnknown})
		if clientCount(ts) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Dead client still registered: %d clients", clientCount(ts))
}
