package signaling

// FrameType names a message of the tracker wire protocol.
type FrameType string

const (
	FrameRegister FrameType = "register"
	FramePeers    FrameType = "peers"
	FrameInvite   FrameType = "invite"
	FrameSignal   FrameType = "signal"
	FrameJoin     FrameType = "join"
	FrameLeave    FrameType = "leave"
	FrameError    FrameType = "error"
)

// Frame is the JSON text exchanged with the tracker. From is filled in by
// the tracker on relayed frames; To names the relay target.
type Frame struct {
	Type   FrameType `json:"type"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Peers  []string  `json:"peers,omitempty"`
	Signal *Signal   `json:"signal,omitempty"`
	Error  string    `json:"error,omitempty"`
}
