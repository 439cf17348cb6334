package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 10 * time.Second

// Compile-time interface check.
var _ Signaler = (*WSSignaler)(nil)

// WSSignaler speaks the tracker protocol over a websocket.
type WSSignaler struct {
	id     string
	conn   *websocket.Conn
	logger logrus.FieldLogger
	router *router

	writeMu sync.Mutex
	reqMu   sync.Mutex
	replies chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the tracker at url as peer id.
func Dial(ctx context.Context, url, id string, logger logrus.FieldLogger) (*WSSignaler, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing tracker %s: %w", url, err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &WSSignaler{
		id:      id,
		conn:    conn,
		logger:  logger.WithField("component", "signaler"),
		router:  newRouter(),
		replies: make(chan Frame, 1),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *WSSignaler) readLoop() {
	defer s.shutdown()

	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warnf("Tracker connection lost: %v", err)
			}
			return
		}

		switch f.Type {
		case FramePeers:
			s.reply(f)
		case FrameError:
			if f.To != "" {
				s.logger.Warnf("Tracker could not reach %s: %s", f.To, f.Error)
				continue
			}
			s.reply(f)
		case FrameInvite:
			s.router.invite(f.From)
		case FrameSignal:
			if f.Signal == nil {
				s.logger.Debugf("Empty signal from %s", f.From)
				continue
			}
			s.router.signal(f.From, *f.Signal)
		case FrameJoin:
			if f.From != s.id {
				s.router.join(f.From)
			}
		case FrameLeave:
			s.router.leave(f.From)
		default:
			s.logger.Warnf("Unknown tracker frame %q", f.Type)
		}
	}
}

func (s *WSSignaler) reply(f Frame) {
	select {
	case s.replies <- f:
	default:
		s.logger.Debugf("Dropping unsolicited %s frame", f.Type)
	}
}

func (s *WSSignaler) write(f Frame) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.Type, err)
	}
	return nil
}

// request writes f and waits for the tracker's peer list.
func (s *WSSignaler) request(ctx context.Context, f Frame) ([]string, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	if err := s.write(f); err != nil {
		return nil, err
	}

	select {
	case r := <-s.replies:
		if r.Type == FrameError {
			return nil, errors.New(r.Error)
		}
		return r.Peers, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *WSSignaler) RegisterPeer(ctx context.Context) error {
	_, err := s.request(ctx, Frame{Type: FrameRegister, From: s.id})
	if err != nil {
		return fmt.Errorf("registering %s: %w", s.id, err)
	}
	return nil
}

func (s *WSSignaler) AvailablePeers(ctx context.Context) ([]string, error) {
	peers, err := s.request(ctx, Frame{Type: FramePeers})
	if err != nil {
		return nil, fmt.Errorf("listing peers: %w", err)
	}

	out := peers[:0]
	for _, id := range peers {
		if id != s.id {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *WSSignaler) OnInvite(fn func(from string)) {
	s.router.setInvite(fn)
}

func (s *WSSignaler) SubscribeToPeers(onJoin, onLeave func(id string)) {
	s.router.setPresence(onJoin, onLeave)
}

func (s *WSSignaler) SendInvite(_ context.Context, to string) error {
	return s.write(Frame{Type: FrameInvite, To: to})
}

func (s *WSSignaler) SendSignal(_ context.Context, to string, sig Signal) error {
	return s.write(Frame{Type: FrameSignal, To: to, Signal: &sig})
}

func (s *WSSignaler) OnSignal(from string, fn func(Signal)) {
	s.router.register(from, fn)
}

func (s *WSSignaler) Cleanup(peerID string) {
	s.router.cleanup(peerID)
}

func (s *WSSignaler) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *WSSignaler) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	s.writeMu.Unlock()

	s.shutdown()
	return s.conn.Close()
}
