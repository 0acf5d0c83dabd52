package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/monitoring"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/rtos"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/sched"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/types"
)

const (
	// DefaultInterval is the push period of a new subscription.
	DefaultInterval = time.Second
	// MinInterval bounds what a client may request.
	MinInterval = 50 * time.Millisecond

	maxMessageSize = 1024
	writeWait      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TimingFrame is the payload of a "timing" frame.
type TimingFrame struct {
	Ticks      uint64               `json:"ticks"`
	Timing     rtos.TimingStats     `json:"timing"`
	Scheduler  sched.Stats          `json:"scheduler"`
	Fairness   sched.FairnessReport `json:"fairness"`
	FreeFrames int                  `json:"free_frames"`
	Processes  map[string]int       `json:"processes"`
}

// Handler streams live timing statistics to WebSocket clients.
type Handler struct {
	kernel  *kernel.Kernel
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(k *kernel.Kernel, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{kernel: k, metrics: metrics, logger: logger.Named("ws")}
}

// HandleConnection upgrades the request and pushes a timing frame every
// interval until the client goes away.
//
// Client messages:
//   - {"type":"ping"} answers with a pong frame
//   - {"type":"subscribe","interval_ms":N} changes the push period
//   - {"type":"snapshot"} pushes a timing frame immediately
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	inbox := make(chan types.WSMessage, 8)
	go h.readLoop(ctx, cancel, conn, inbox)

	if err := h.send(conn, types.WSFrame{Type: "system", Message: "connected to kernel " + h.kernel.BootID().String()}); err != nil {
		return
	}
	h.writeLoop(ctx, conn, inbox)
}

// readLoop decodes client messages until the connection fails.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, inbox chan<- types.WSMessage) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		var msg types.WSMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			msg = types.WSMessage{Type: "invalid"}
		}
		h.record("in", msg.Type)
		select {
		case inbox <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop owns every write to conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, inbox <-chan types.WSMessage) {
	interval := DefaultInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			err = h.pushTiming(conn)
		case msg := <-inbox:
			switch msg.Type {
			case "ping":
				err = h.send(conn, types.WSFrame{Type: "pong"})
			case "snapshot":
				err = h.pushTiming(conn)
			case "subscribe":
				interval = subscribeInterval(msg.IntervalMs)
				ticker.Reset(interval)
				err = h.send(conn, types.WSFrame{Type: "subscribed", Data: map[string]int64{"interval_ms": interval.Milliseconds()}})
			default:
				err = h.sendError(conn, "unknown message type")
			}
		}
		if err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func subscribeInterval(ms int) time.Duration {
	if ms <= 0 {
		return DefaultInterval
	}
	d := time.Duration(ms) * time.Millisecond
	if d < MinInterval {
		return MinInterval
	}
	return d
}

func (h *Handler) pushTiming(conn *websocket.Conn) error {
	st := h.kernel.Stats()
	return h.send(conn, types.WSFrame{
		Type: "timing",
		Data: TimingFrame{
			Ticks:      st.Ticks,
			Timing:     st.Timing,
			Scheduler:  st.Scheduler,
			Fairness:   st.Fairness,
			FreeFrames: st.Memory.FreeFrames,
			Processes:  st.Processes,
		},
	})
}

func (h *Handler) send(conn *websocket.Conn, frame types.WSFrame) error {
	frame.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.record("out", frame.Type)
	return nil
}

func (h *Handler) sendError(conn *websocket.Conn, msg string) error {
	return h.send(conn, types.WSFrame{Type: "error", Message: msg})
}

func (h *Handler) record(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}
