package cwrx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"cwrx/Classifier"
)

// 快照推送节流间隔：UI 刷新用不着每个音频块一帧
const snapshotPushInterval = 100 * time.Millisecond

// 单次写出的截止时间。推送跑在音频处理路径上，
// 卡住不读的客户端最多拖这么久，然后被踢掉
const pushWriteTimeout = time.Second

// pushEnvelope websocket 消息信封
type pushEnvelope struct {
	Type     string                       `json:"type"` // snapshot | callsign
	Snapshot *Snapshot                    `json:"snapshot,omitempty"`
	Callsign *Classifier.DetectedCallsign `json:"callsign,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TelemetryServer 把会话遥测通过 websocket 推给 UI
// 快照按固定间隔节流，呼号事件即时推送
type TelemetryServer struct {
	addr string
	log  *slog.Logger

	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	lastPush time.Time
}

// NewTelemetryServer 创建服务器，addr 形如 ":8090"
func NewTelemetryServer(addr string, logger *slog.Logger) *TelemetryServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryServer{
		addr:    addr,
		log:     logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Run 启动 HTTP 服务并阻塞到 ctx 取消
func (t *TelemetryServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.handleWS)

	srv := &http.Server{Addr: t.addr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.log.Info("telemetry server listening", "addr", t.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleWS 升级连接并登记客户端
// 客户端只收不发，读循环仅用于感知断开
func (t *TelemetryServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	t.mu.Lock()
	t.clients[conn] = true
	n := len(t.clients)
	t.mu.Unlock()
	t.log.Info("telemetry client connected", "clients", n)

	go func() {
		defer t.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (t *TelemetryServer) drop(conn *websocket.Conn) {
	t.mu.Lock()
	if t.clients[conn] {
		delete(t.clients, conn)
		conn.Close()
	}
	n := len(t.clients)
	t.mu.Unlock()
	t.log.Info("telemetry client disconnected", "clients", n)
}

// PushSnapshot 推送遥测快照，带节流
func (t *TelemetryServer) PushSnapshot(snap Snapshot) {
	t.mu.Lock()
	if time.Since(t.lastPush) < snapshotPushInterval {
		t.mu.Unlock()
		return
	}
	t.lastPush = time.Now()
	t.mu.Unlock()

	t.broadcast(pushEnvelope{Type: "snapshot", Snapshot: &snap})
}

// PushCallsign 推送新呼号，不节流
func (t *TelemetryServer) PushCallsign(call Classifier.DetectedCallsign) {
	t.broadcast(pushEnvelope{Type: "callsign", Callsign: &call})
}

// broadcast 把消息发给所有客户端，写失败或超时的连接直接踢掉
func (t *TelemetryServer) broadcast(env pushEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		t.log.Error("telemetry marshal failed", "err", err)
		return
	}

	t.mu.Lock()
	var dead []*websocket.Conn
	for conn := range t.clients {
		conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		delete(t.clients, conn)
		conn.Close()
	}
	t.mu.Unlock()
}
