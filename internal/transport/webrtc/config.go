package webrtc

import (
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
)

const (
	// Binary sends wait while a channel buffers more than this.
	bufferedHighWater uint64 = 1 << 20
	// Waiting senders resume once the buffer drains below this.
	bufferedLowWater uint64 = 256 << 10
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// Configuration builds a pion configuration for the given ICE server URLs.
// An empty list falls back to the public Google STUN servers.
func Configuration(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = DefaultSTUNServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

// DataChannelConfig returns the init parameters giving kind its delivery
// guarantees.
func DataChannelConfig(kind transport.ChannelKind) *webrtc.DataChannelInit {
	ordered := kind == transport.Reliable
	init := &webrtc.DataChannelInit{
		Ordered: &ordered,
	}
	if kind == transport.Unreliable {
		var retransmits uint16
		init.MaxRetransmits = &retransmits
	}
	return init
}
