package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type connection struct {
	config   webrtc.Configuration
	req      transport.Request
	handlers transport.Handlers
	logger   logrus.FieldLogger

	// negMu serializes offer/answer handling.
	negMu sync.Mutex

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	channels map[transport.ChannelKind]*webrtc.DataChannel
	low      map[transport.ChannelKind]chan struct{}
	opened   map[transport.ChannelKind]bool
	reported map[transport.State]bool
	pending  []webrtc.ICECandidateInit
	closed   bool

	done chan struct{}
}

func newConnection(config webrtc.Configuration, req transport.Request, h transport.Handlers, logger logrus.FieldLogger) *connection {
	return &connection{
		config:   config,
		req:      req,
		handlers: h,
		logger:   logger,
		channels: make(map[transport.ChannelKind]*webrtc.DataChannel),
		low:      make(map[transport.ChannelKind]chan struct{}),
		opened:   make(map[transport.ChannelKind]bool),
		reported: make(map[transport.State]bool),
		done:     make(chan struct{}),
	}
}

func (c *connection) start(ctx context.Context) error {
	c.negMu.Lock()
	pc, err := c.newPeerConnection()
	if err != nil {
		c.negMu.Unlock()
		return err
	}

	if c.req.Outgoing {
		c.logger.Debug("Creating data channels as the initiator")
		if err := c.createChannels(pc); err != nil {
			c.negMu.Unlock()
			return err
		}

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			c.negMu.Unlock()
			return fmt.Errorf("failed to create offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			c.negMu.Unlock()
			return fmt.Errorf("failed to set local description: %w", err)
		}
		if err := c.sendDescription(ctx, offer); err != nil {
			c.negMu.Unlock()
			return fmt.Errorf("failed to send offer: %w", err)
		}
	} else {
		c.logger.Debug("Waiting for offer as the other peer is the initiator")
	}
	c.negMu.Unlock()

	// Registering drains any signals that arrived early.
	c.req.Signaler.OnSignal(c.req.RemoteID, c.handleSignal)
	return nil
}

func (c *connection) newPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(c.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil || !c.current(pc) {
			return
		}
		init := ice.ToJSON()
		sig := signaling.Signal{Candidate: &signaling.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}}
		if err := c.req.Signaler.SendSignal(context.Background(), c.req.RemoteID, sig); err != nil {
			c.logger.Warnf("Failed to send ICE candidate: %v", err)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if !c.current(pc) {
			return
		}
		c.logger.Debugf("Peer connection state has changed: %s", s.String())

		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.report(transport.StateConnected)
		case webrtc.PeerConnectionStateFailed:
			c.report(transport.StateFailed)
		case webrtc.PeerConnectionStateDisconnected:
			c.report(transport.StateDisconnected)
		case webrtc.PeerConnectionStateClosed:
			c.report(transport.StateClosed)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if !c.current(pc) {
			return
		}
		kind, ok := transport.ParseLabel(dc.Label())
		if !ok {
			c.logger.Warnf("Ignoring data channel with unknown label %q", dc.Label())
			return
		}
		c.adopt(kind, dc)
	})

	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()
	return pc, nil
}

func (c *connection) createChannels(pc *webrtc.PeerConnection) error {
	for _, kind := range transport.Channels {
		dc, err := pc.CreateDataChannel(kind.Label(), DataChannelConfig(kind))
		if err != nil {
			return fmt.Errorf("failed to create %s data channel: %w", kind, err)
		}
		c.adopt(kind, dc)
	}
	return nil
}

func (c *connection) adopt(kind transport.ChannelKind, dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.channels[kind] = dc
	low, ok := c.low[kind]
	if !ok {
		low = make(chan struct{}, 1)
		c.low[kind] = low
	}
	c.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(bufferedLowWater)
	dc.OnBufferedAmountLow(func() {
		select {
		case low <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		c.logger.Debugf("Data channel '%s' open", dc.Label())
		c.markOpen(kind)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.isClosed() || c.handlers.OnData == nil {
			return
		}
		enc := transport.Binary
		if msg.IsString {
			enc = transport.Structured
		}
		c.handlers.OnData(transport.Event{Channel: kind, Encoding: enc, Payload: msg.Data})
	})

	dc.OnError(func(err error) {
		c.logger.Warnf("Data channel %s error: %v", kind, err)
	})

	dc.OnClose(func() {
		c.logger.Debugf("Data channel '%s' closed", dc.Label())
	})
}

func (c *connection) handleSignal(sig signaling.Signal) {
	c.negMu.Lock()
	defer c.negMu.Unlock()

	if c.isClosed() {
		return
	}

	var err error
	switch {
	case sig.Description != nil:
		err = c.handleDescription(*sig.Description)
	case sig.Candidate != nil:
		c.handleCandidate(*sig.Candidate)
	}
	if err != nil {
		c.logger.Warnf("Negotiation failed: %v", err)
		c.report(transport.StateFailed)
	}
}

func (c *connection) handleDescription(desc signaling.SessionDescription) error {
	pc := c.peerConnection()
	if pc == nil {
		return transport.ErrClosed
	}

	switch webrtc.NewSDPType(desc.Type) {
	case webrtc.SDPTypeOffer:
		if pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			if c.req.LocalID < c.req.RemoteID {
				c.logger.Debug("Ignoring colliding offer")
				return nil
			}
			c.logger.Debug("Offer collision, answering the remote offer")
			var err error
			if pc, err = c.restart(pc); err != nil {
				return err
			}
		}

		if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}); err != nil {
			return fmt.Errorf("failed to set remote description: %w", err)
		}
		c.flushCandidates(pc)

		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local description: %w", err)
		}
		if err := c.sendDescription(context.Background(), answer); err != nil {
			return fmt.Errorf("failed to send answer: %w", err)
		}
		return nil

	case webrtc.SDPTypeAnswer:
		if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
			c.logger.Debug("Ignoring unexpected answer")
			return nil
		}
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}); err != nil {
			return fmt.Errorf("failed to set remote description: %w", err)
		}
		c.flushCandidates(pc)
		return nil

	default:
		return fmt.Errorf("unexpected description type %q", desc.Type)
	}
}

// restart replaces pc with a fresh connection that will answer instead of offer.
func (c *connection) restart(old *webrtc.PeerConnection) (*webrtc.PeerConnection, error) {
	c.mu.Lock()
	c.channels = make(map[transport.ChannelKind]*webrtc.DataChannel)
	c.pending = nil
	c.mu.Unlock()

	pc, err := c.newPeerConnection()
	if err != nil {
		return nil, err
	}
	if err := old.Close(); err != nil {
		c.logger.Debugf("Closing superseded peer connection: %v", err)
	}
	return pc, nil
}

func (c *connection) handleCandidate(cand signaling.ICECandidate) {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}

	pc := c.peerConnection()
	if pc == nil {
		return
	}
	if pc.RemoteDescription() == nil {
		c.mu.Lock()
		c.pending = append(c.pending, init)
		c.mu.Unlock()
		return
	}
	if err := pc.AddICECandidate(init); err != nil {
		c.logger.Debugf("Failed to add ICE candidate: %v", err)
	}
}

func (c *connection) flushCandidates(pc *webrtc.PeerConnection) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			c.logger.Debugf("Failed to add buffered ICE candidate: %v", err)
		}
	}
}

func (c *connection) sendDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	return c.req.Signaler.SendSignal(ctx, c.req.RemoteID, signaling.Signal{
		Description: &signaling.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP},
	})
}

func (c *connection) markOpen(kind transport.ChannelKind) {
	c.mu.Lock()
	if c.closed || c.opened[kind] {
		c.mu.Unlock()
		return
	}
	c.opened[kind] = true
	c.mu.Unlock()

	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen(kind)
	}
}

// report delivers each final state at most once, and nothing after Close.
func (c *connection) report(state transport.State) {
	c.mu.Lock()
	if c.closed || c.reported[state] {
		c.mu.Unlock()
		return
	}
	c.reported[state] = true
	c.mu.Unlock()

	if c.handlers.OnFinalState != nil {
		c.handlers.OnFinalState(state)
	}
}

func (c *connection) current(pc *webrtc.PeerConnection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc == pc && !c.closed
}

func (c *connection) peerConnection() *webrtc.PeerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *connection) Send(kind transport.ChannelKind, enc transport.Encoding, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	dc := c.channels[kind]
	low := c.low[kind]
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("%s: %w", kind, transport.ErrChannelNotOpen)
	}

	if enc == transport.Structured {
		return dc.SendText(string(payload))
	}

	for dc.BufferedAmount() > bufferedHighWater {
		select {
		case <-low:
		case <-c.done:
			return transport.ErrClosed
		}
	}
	return dc.Send(payload)
}

func (c *connection) Statistics(_ context.Context) (transport.Stats, error) {
	pc := c.peerConnection()
	if pc == nil || c.isClosed() {
		return transport.Stats{}, transport.ErrClosed
	}
	return classify(pc.GetStats())
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pc := c.pc
	channels := make([]*webrtc.DataChannel, 0, len(c.channels))
	for _, dc := range c.channels {
		channels = append(channels, dc)
	}
	c.mu.Unlock()

	close(c.done)

	var err error
	for _, dc := range channels {
		err = multierr.Append(err, dc.Close())
	}
	if pc != nil {
		err = multierr.Append(err, pc.Close())
	}
	return err
}
