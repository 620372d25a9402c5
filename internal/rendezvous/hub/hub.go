// Package hub implements the rendezvous service: a websocket endpoint that
// tracks which peers are present and routes signal, relay, and broadcast
// frames between them. It never inspects payloads.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tunemesh/tunemesh/internal/rendezvous"
)

type Config struct {
	Addr   string
	Logger *slog.Logger

	// MaxMessageBytes caps inbound frame size. Zero means no limit.
	MaxMessageBytes int64
}

type Server struct {
	config Config
	logger *slog.Logger

	listener net.Listener
	httpSrv  *http.Server

	mu    sync.Mutex
	peers map[string]*peerConn
}

type peerConn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
}

func (p *peerConn) write(f rendezvous.Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.ws.WriteJSON(f)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewServer(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		listener: ln,
		peers:    make(map[string]*peerConn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("rendezvous hub started", "addr", s.Addr())

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	err := s.httpSrv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}

func (s *Server) Shutdown() error {
	s.logger.Info("shutting down rendezvous hub")
	return s.httpSrv.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	if s.config.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.config.MaxMessageBytes)
	}

	// The first frame must be a join carrying the peer's id.
	var join rendezvous.Frame
	if err := ws.ReadJSON(&join); err != nil || join.Kind != rendezvous.FrameJoin || join.From == "" {
		s.logger.Warn("rejecting connection without join frame", "remote", r.RemoteAddr)
		return
	}

	pc := &peerConn{id: join.From, ws: ws}
	if !s.register(pc) {
		s.logger.Warn("duplicate peer id", "peer", pc.id)
		return
	}
	s.logger.Info("peer joined", "peer", pc.id)
	defer s.unregister(pc)

	s.fanout(pc.id, rendezvous.Frame{Kind: rendezvous.FrameEnter, From: pc.id})

	for {
		var f rendezvous.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		f.From = pc.id
		s.handleFrame(pc, f)
	}
}

func (s *Server) handleFrame(pc *peerConn, f rendezvous.Frame) {
	switch f.Kind {
	case rendezvous.FrameMembers:
		reply := rendezvous.Frame{Kind: rendezvous.FrameMembers, Members: s.memberIDs()}
		if err := pc.write(reply); err != nil {
			s.logger.Warn("failed to send members", "peer", pc.id, "error", err)
		}
	case rendezvous.FrameSignal, rendezvous.FrameRelay:
		s.unicast(f)
	case rendezvous.FrameBroadcast:
		s.fanout(pc.id, f)
	default:
		s.logger.Warn("unhandled frame kind", "kind", f.Kind, "peer", pc.id)
	}
}

func (s *Server) register(pc *peerConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.peers[pc.id]; exists {
		return false
	}
	s.peers[pc.id] = pc
	return true
}

func (s *Server) unregister(pc *peerConn) {
	s.mu.Lock()
	current, ok := s.peers[pc.id]
	if ok && current == pc {
		delete(s.peers, pc.id)
	}
	s.mu.Unlock()
	if ok && current == pc {
		s.logger.Info("peer left", "peer", pc.id)
		s.fanout(pc.id, rendezvous.Frame{Kind: rendezvous.FrameLeave, From: pc.id})
	}
}

func (s *Server) memberIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) unicast(f rendezvous.Frame) {
	s.mu.Lock()
	target, ok := s.peers[f.To]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("dropping frame for absent peer", "kind", f.Kind, "to", f.To)
		return
	}
	if err := target.write(f); err != nil {
		s.logger.Warn("failed to route frame", "kind", f.Kind, "to", f.To, "error", err)
	}
}

func (s *Server) fanout(fromID string, f rendezvous.Frame) {
	s.mu.Lock()
	targets := make([]*peerConn, 0, len(s.peers))
	for id, pc := range s.peers {
		if id != fromID {
			targets = append(targets, pc)
		}
	}
	s.mu.Unlock()

	for _, pc := range targets {
		if err := pc.write(f); err != nil {
			s.logger.Warn("failed to fan out frame", "kind", f.Kind, "to", pc.id, "error", err)
		}
	}
}
