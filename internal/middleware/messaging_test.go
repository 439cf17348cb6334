package middleware

import (
	"testing"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagingDeliversTextAndTyping(t *testing.T) {
	var texts []string
	var typing []bool
	m := NewMessaging(&fakeSender{}, MessagingHandlers{
		OnText:   func(s string) { texts = append(texts, s) },
		OnTyping: func(b bool) { typing = append(typing, b) },
	})

	assert.False(t, m.Accept(structuredEvent(t, transport.Reliable, protocol.Text{Text: "hello"})))
	assert.False(t, m.Accept(structuredEvent(t, transport.Reliable, protocol.Typing{Typing: true})))

	assert.Equal(t, []string{"hello"}, texts)
	assert.Equal(t, []bool{true}, typing)
}

func TestMessagingPassesOtherTraffic(t *testing.T) {
	called := false
	m := NewMessaging(&fakeSender{}, MessagingHandlers{OnText: func(string) { called = true }})

	// Text on the wrong channel is not chat.
	assert.True(t, m.Accept(structuredEvent(t, transport.Unreliable, protocol.Text{Text: "x"})))
	assert.True(t, m.Accept(structuredEvent(t, transport.Unreliable, protocol.Gossip{From: "a"})))
	assert.True(t, m.Accept(transport.Event{Channel: transport.Unordered, Encoding: transport.Binary, Payload: []byte{0}}))
	assert.False(t, called)
}

func TestMessagingSend(t *testing.T) {
	s := &fakeSender{}
	m := NewMessaging(s, MessagingHandlers{})

	require.NoError(t, m.SendText("hi"))
	require.NoError(t, m.SendTyping(false))

	evs := s.events()
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, transport.Reliable, ev.Channel)
		assert.Equal(t, transport.Structured, ev.Encoding)
	}
	assert.Equal(t, &protocol.Text{Text: "hi"}, decodeSent(t, evs[0]))
	assert.Equal(t, &protocol.Typing{Typing: false}, decodeSent(t, evs[1]))
}
