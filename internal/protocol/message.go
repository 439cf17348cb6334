package protocol

// Message is one of the closed set of envelope payloads.
type Message interface {
	Type() MessageType
}

type AuthChallenge struct {
	Nonce     []byte `json:"nonce"`
	PublicKey string `json:"publicKey"`
}

func (AuthChallenge) Type() MessageType { return MsgAuthChallenge }

type AuthResponse struct {
	PublicKey string `json:"publicKey"`
	Signature []byte `json:"signature"`
}

func (AuthResponse) Type() MessageType { return MsgAuthResponse }

type Gossip struct {
	From       string   `json:"from"`
	KnownPeers []string `json:"knownPeers"`
}

func (Gossip) Type() MessageType { return MsgGossip }

type Text struct {
	Text string
}

func (Text) Type() MessageType { return MsgText }

type Typing struct {
	Typing bool
}

func (Typing) Type() MessageType { return MsgTyping }

type FileMeta struct {
	MimeType string
	Name     string
	Size     int64
}

// Chunk is one binary frame of a file transfer. Ordering is by Index, never by arrival.
type Chunk struct {
	Data   []byte
	FileID string
	Index  uint32
	Meta   FileMeta
	Total  uint32
}
