// Package wsfeed streams tracker reports to websocket clients.
//
// Each connection subscribes to a tracker.Hub and receives one frame per
// report. Clients pick the encoding with the codec query parameter:
// "json" (the default) sends text frames and "msgpack" sends binary
// frames. The job_id query parameter narrows the feed to a single job.
//
//	GET /v1/reports?codec=msgpack&job_id=job_01h...
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/conveyor/tracker"
)

// Frame is the wire form of a tracker.Report.
type Frame struct {
	JobID    string       `json:"job_id" msgpack:"job_id"`
	JobName  string       `json:"job_name" msgpack:"job_name"`
	Kind     tracker.Kind `json:"kind" msgpack:"kind"`
	Progress uint8        `json:"progress" msgpack:"progress"`
	Message  string       `json:"message,omitempty" msgpack:"message,omitempty"`
	At       time.Time    `json:"at" msgpack:"at"`
}

// FrameOf converts r to its wire form.
func FrameOf(r tracker.Report) Frame {
	return Frame{
		JobID:    r.JobID.String(),
		JobName:  r.JobName,
		Kind:     r.Kind,
		Progress: r.Progress,
		Message:  r.Message,
		At:       r.At,
	}
}

// Decode parses a frame received with opcode op.
func Decode(op ws.OpCode, data []byte) (Frame, error) {
	var f Frame
	switch op {
	case ws.OpText:
		return f, json.Unmarshal(data, &f)
	case ws.OpBinary:
		return f, msgpack.Unmarshal(data, &f)
	default:
		return f, fmt.Errorf("wsfeed: unexpected opcode %v", op)
	}
}

type encoder struct {
	op      ws.OpCode
	marshal func(any) ([]byte, error)
}

var encoders = map[string]encoder{
	"":        {ws.OpText, json.Marshal},
	"json":    {ws.OpText, json.Marshal},
	"msgpack": {ws.OpBinary, msgpack.Marshal},
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// Handler upgrades requests to websockets and streams hub reports.
type Handler struct {
	hub          *tracker.Hub
	logger       *slog.Logger
	writeTimeout time.Duration
}

// New creates a Handler reading from hub.
func New(hub *tracker.Hub, opts ...Option) *Handler {
	h := &Handler{
		hub:          hub,
		logger:       slog.Default(),
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	enc, ok := encoders[r.URL.Query().Get("codec")]
	if !ok {
		http.Error(w, "unsupported codec", http.StatusBadRequest)
		return
	}
	var filter func(tracker.Report) bool
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		filter = tracker.ForJob(jobID)
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(filter)
	defer h.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(conn, cancel)

	h.logger.Debug("report feed connected", slog.String("subscription", sub.ID()))
	_ = sub.Consume(ctx, func(rep tracker.Report) {
		if werr := h.write(conn, enc, rep); werr != nil {
			h.logger.Debug("report feed write failed", slog.String("error", werr.Error()))
			cancel()
		}
	})
	h.logger.Debug("report feed disconnected",
		slog.String("subscription", sub.ID()),
		slog.Int64("dropped", sub.Dropped()),
	)
}

func (h *Handler) write(conn net.Conn, enc encoder, rep tracker.Report) error {
	data, err := enc.marshal(FrameOf(rep))
	if err != nil {
		return fmt.Errorf("wsfeed: encode report: %w", err)
	}
	if h.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	return wsutil.WriteServerMessage(conn, enc.op, data)
}

// readLoop discards client frames and cancels the feed when the client
// goes away. wsutil answers pings and close frames for us.
func (h *Handler) readLoop(conn net.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := wsutil.ReadClientData(conn); err != nil {
			return
		}
	}
}
