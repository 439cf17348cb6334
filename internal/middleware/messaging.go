package middleware

import (
	"context"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
)

type MessagingHandlers struct {
	OnText   func(text string)
	OnTyping func(typing bool)
}

// Messaging carries chat text and typing indicators on the reliable channel.
type Messaging struct {
	sender   Sender
	handlers MessagingHandlers
}

func NewMessaging(s Sender, h MessagingHandlers) *Messaging {
	return &Messaging{sender: s, handlers: h}
}

func (m *Messaging) Kind() Kind { return KindMessaging }

func (m *Messaging) Accept(ev transport.Event) bool {
	msg, ok := decodeOn(ev, transport.Reliable)
	if !ok {
		return true
	}

	switch msg := msg.(type) {
	case *protocol.Text:
		if m.handlers.OnText != nil {
			m.handlers.OnText(msg.Text)
		}
		return false
	case *protocol.Typing:
		if m.handlers.OnTyping != nil {
			m.handlers.OnTyping(msg.Typing)
		}
		return false
	}
	return true
}

func (m *Messaging) SendText(text string) error {
	return sendMessage(m.sender, transport.Reliable, protocol.Text{Text: text})
}

func (m *Messaging) SendTyping(typing bool) error {
	return sendMessage(m.sender, transport.Reliable, protocol.Typing{Typing: typing})
}

func (m *Messaging) Open(context.Context, transport.ChannelKind) error { return nil }

func (m *Messaging) Blocked() bool { return false }

func (m *Messaging) Close() {}
