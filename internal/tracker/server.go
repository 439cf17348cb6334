// Package tracker is the rendezvous server peers use to find each other and
// relay invites and negotiation signals.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Addr   string
	Logger logrus.FieldLogger
}

type Server struct {
	config   Config
	logger   logrus.FieldLogger
	listener net.Listener
	http     *http.Server
	store    *Store
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Addr, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		listener: ln,
		store:    NewStore(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConnect)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL is the websocket address clients dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/"
}

// Start serves until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Tracker server started on %s", s.Addr())

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	return err
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down tracker server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("Upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	s.logger.Debugf("Connection from %s", r.RemoteAddr)

	var self *peer
	defer func() {
		_ = conn.Close()
		if self != nil && s.store.Remove(self) {
			s.logger.Infof("Peer %s left", identity.ShortID(self.id))
			s.broadcast(self.id, signaling.Frame{Type: signaling.FrameLeave, From: self.id})
		}
	}()

	for {
		var f signaling.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugf("Read from %s failed: %v", r.RemoteAddr, err)
			}
			return
		}

		if f.Type == signaling.FrameRegister {
			if self != nil {
				s.reply(conn, self, signaling.Frame{Type: signaling.FrameError, Error: "already registered"})
				continue
			}
			if f.From == "" {
				s.reply(conn, nil, signaling.Frame{Type: signaling.FrameError, Error: "missing peer id"})
				continue
			}
			self = &peer{id: f.From, conn: conn}
			s.register(self)
			continue
		}

		if self == nil {
			s.reply(conn, nil, signaling.Frame{Type: signaling.FrameError, Error: "not registered"})
			continue
		}
		s.handleFrame(self, f)
	}
}

func (s *Server) register(p *peer) {
	if old := s.store.Add(p); old != nil {
		s.logger.Warnf("Peer %s re-registered, dropping previous connection", identity.ShortID(p.id))
		_ = old.conn.Close()
	}
	s.logger.Infof("Peer %s registered (%d online)", identity.ShortID(p.id), s.store.Len())

	if err := p.send(signaling.Frame{Type: signaling.FramePeers, Peers: s.store.IDs()}); err != nil {
		s.logger.Warnf("Sending peer list to %s: %v", identity.ShortID(p.id), err)
	}
	s.broadcast(p.id, signaling.Frame{Type: signaling.FrameJoin, From: p.id})
}

func (s *Server) handleFrame(p *peer, f signaling.Frame) {
	switch f.Type {
	case signaling.FramePeers:
		if err := p.send(signaling.Frame{Type: signaling.FramePeers, Peers: s.store.IDs()}); err != nil {
			s.logger.Warnf("Sending peer list to %s: %v", identity.ShortID(p.id), err)
		}

	case signaling.FrameInvite, signaling.FrameSignal:
		target, ok := s.store.Get(f.To)
		if !ok {
			_ = p.send(signaling.Frame{Type: signaling.FrameError, To: f.To, Error: "unknown peer"})
			return
		}
		relay := signaling.Frame{Type: f.Type, From: p.id, Signal: f.Signal}
		if err := target.send(relay); err != nil {
			s.logger.Warnf("Relaying %s to %s: %v", f.Type, identity.ShortID(f.To), err)
		}

	default:
		s.logger.Warnf("Unhandled frame type %q from %s", f.Type, identity.ShortID(p.id))
		_ = p.send(signaling.Frame{Type: signaling.FrameError, Error: "unknown frame type"})
	}
}

// reply writes to a connection that may not be registered yet.
func (s *Server) reply(conn *websocket.Conn, p *peer, f signaling.Frame) {
	if p != nil {
		_ = p.send(f)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(f)
}

func (s *Server) broadcast(except string, f signaling.Frame) {
	for _, p := range s.store.Others(except) {
		if err := p.send(f); err != nil {
			s.logger.Debugf("Broadcast %s to %s: %v", f.Type, identity.ShortID(p.id), err)
		}
	}
}
