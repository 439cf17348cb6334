package protocol

const (
	DefaultChunkSize = 16 * 1024
	MaxKnownPeers    = 256
	NonceSize        = 32
	SignatureSize    = 64
)

type MessageType string

const (
	MsgAuthChallenge MessageType = "auth-challenge"
	MsgAuthResponse  MessageType = "auth-response"
	MsgGossip        MessageType = "gossip"
	MsgText          MessageType = "text"
	MsgTyping        MessageType = "typing"
)

func (t MessageType) String() string {
	return string(t)
}

// IsAuth reports whether the type belongs to the authentication handshake.
func (t MessageType) IsAuth() bool {
	return t == MsgAuthChallenge || t == MsgAuthResponse
}
