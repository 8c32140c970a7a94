// Package gateway exposes widget surfaces over HTTP.
//
// Every surface is an independent conversation. The REST routes read state
// and submit messages; the WebSocket route pushes the newest state after
// every change and accepts messages from the client.
//
//	GET  /api/surfaces
//	GET  /api/surfaces/{surface}/state
//	POST /api/surfaces/{surface}/messages
//	GET  /api/surfaces/{surface}/ws
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/simchat/internal/observe"
	"github.com/MrWong99/simchat/internal/widget"
)

const (
	defaultMaxMessageBytes = 16 << 10
	defaultWriteTimeout    = 10 * time.Second
)

// Surface is one widget conversation. [*widget.Controller] implements it.
type Surface interface {
	Name() string
	Snapshot() widget.State
	SubmitAsync(ctx context.Context, text string) bool
	Subscribe() (<-chan widget.State, func())
}

// MessageRequest is the body of a message submission, over REST and
// WebSocket alike.
type MessageRequest struct {
	Message string `json:"message"`
}

// MessageResponse is returned by the message submission route.
type MessageResponse struct {
	Accepted bool         `json:"accepted"`
	State    widget.State `json:"state"`
}

type listResponse struct {
	Surfaces []string `json:"surfaces"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Option is a functional option for [New].
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithOriginPatterns lists the cross-origin hosts allowed to open a
// WebSocket. Same-origin requests are always allowed.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.origins = append(s.origins, patterns...)
	}
}

// WithMaxMessageBytes caps the size of a submitted message body or frame.
func WithMaxMessageBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxMessageBytes = n
		}
	}
}

// WithWriteTimeout bounds a single WebSocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Server routes HTTP requests to surfaces. The surface set is fixed at
// construction time.
type Server struct {
	surfaces        map[string]Surface
	names           []string
	metrics         *observe.Metrics
	origins         []string
	maxMessageBytes int64
	writeTimeout    time.Duration
}

// New creates a Server for the given surfaces. Surface names must be
// non-empty and unique.
func New(surfaces []Surface, opts ...Option) (*Server, error) {
	s := &Server{
		surfaces:        make(map[string]Surface, len(surfaces)),
		maxMessageBytes: defaultMaxMessageBytes,
		writeTimeout:    defaultWriteTimeout,
	}
	for _, surf := range surfaces {
		name := surf.Name()
		if name == "" {
			return nil, errors.New("gateway: surface with empty name")
		}
		if _, dup := s.surfaces[name]; dup {
			return nil, fmt.Errorf("gateway: duplicate surface %q", name)
		}
		s.surfaces[name] = surf
		s.names = append(s.names, name)
	}
	slices.Sort(s.names)

	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Register adds the gateway routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/surfaces", s.handleList)
	mux.HandleFunc("GET /api/surfaces/{surface}/state", s.handleState)
	mux.HandleFunc("POST /api/surfaces/{surface}/messages", s.handleMessage)
	mux.HandleFunc("GET /api/surfaces/{surface}/ws", s.handleSocket)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{Surfaces: s.names})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	surf, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, surf.Snapshot())
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	surf, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxMessageBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid message body"})
		return
	}

	// The round trip outlives the request; the visitor follows it through
	// the state route or the socket.
	accepted := surf.SubmitAsync(context.WithoutCancel(r.Context()), req.Message)
	writeJSON(w, http.StatusAccepted, MessageResponse{
		Accepted: accepted,
		State:    surf.Snapshot(),
	})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	surf, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("gateway: websocket accept failed",
			"surface", surf.Name(),
			"err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	name := surf.Name()
	s.metrics.SocketOpened(ctx, name)
	defer s.metrics.SocketClosed(context.WithoutCancel(ctx), name)

	updates, unsubscribe := surf.Subscribe()
	defer unsubscribe()

	go s.readLoop(ctx, cancel, conn, surf)

	if err := s.write(ctx, conn, surf.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case st, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "surface closed")
				return
			}
			if err := s.write(ctx, conn, st); err != nil {
				observe.Logger(ctx).Debug("gateway: websocket write failed",
					"surface", name,
					"err", err)
				return
			}
		}
	}
}

// readLoop submits client frames until the connection fails, then cancels
// the socket context.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, surf Surface) {
	defer cancel()
	for {
		var req MessageRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					observe.Logger(ctx).Debug("gateway: websocket read ended",
						"surface", surf.Name(),
						"err", err)
				}
			}
			return
		}
		surf.SubmitAsync(context.WithoutCancel(ctx), req.Message)
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, st widget.State) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, st)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Surface, bool) {
	name := r.PathValue("surface")
	surf, ok := s.surfaces[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown surface %q", name)})
		return nil, false
	}
	return surf, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
