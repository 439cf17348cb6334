package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEnvelope renders msg as the {"type", "data"} JSON text sent on structured channels.
func EncodeEnvelope(msg Message) ([]byte, error) {
	var data any
	switch m := msg.(type) {
	case Text:
		data = m.Text
	case *Text:
		data = m.Text
	case Typing:
		data = m.Typing
	case *Typing:
		data = m.Typing
	default:
		data = msg
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Data: raw})
}

// DecodeEnvelope parses and validates an envelope against the schema of its type.
func DecodeEnvelope(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
	}

	switch env.Type {
	case MsgText:
		var text string
		if err := json.Unmarshal(env.Data, &text); err != nil {
			return nil, fmt.Errorf("%w: text: %v", ErrMalformed, err)
		}
		return &Text{Text: text}, nil

	case MsgTyping:
		var typing bool
		if err := json.Unmarshal(env.Data, &typing); err != nil {
			return nil, fmt.Errorf("%w: typing: %v", ErrMalformed, err)
		}
		return &Typing{Typing: typing}, nil

	case MsgGossip:
		var g Gossip
		if err := json.Unmarshal(env.Data, &g); err != nil {
			return nil, fmt.Errorf("%w: gossip: %v", ErrMalformed, err)
		}
		if g.From == "" || len(g.KnownPeers) > MaxKnownPeers {
			return nil, fmt.Errorf("%w: gossip", ErrMalformed)
		}
		for _, id := range g.KnownPeers {
			if id == "" {
				return nil, fmt.Errorf("%w: gossip has empty peer id", ErrMalformed)
			}
		}
		return &g, nil

	case MsgAuthChallenge:
		var c AuthChallenge
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return nil, fmt.Errorf("%w: auth-challenge: %v", ErrMalformed, err)
		}
		if c.PublicKey == "" || len(c.Nonce) != NonceSize {
			return nil, fmt.Errorf("%w: auth-challenge", ErrMalformed)
		}
		return &c, nil

	case MsgAuthResponse:
		var r AuthResponse
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("%w: auth-response: %v", ErrMalformed, err)
		}
		if r.PublicKey == "" || len(r.Signature) != SignatureSize {
			return nil, fmt.Errorf("%w: auth-response", ErrMalformed)
		}
		return &r, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// PeekType returns the envelope type without validating the payload.
func PeekType(raw []byte) (MessageType, error) {
	var env struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Type, nil
}

const (
	chunkFieldFileID protowire.Number = 1
	chunkFieldIndex  protowire.Number = 2
	chunkFieldTotal  protowire.Number = 3
	chunkFieldMeta   protowire.Number = 4

	metaFieldName     protowire.Number = 1
	metaFieldSize     protowire.Number = 2
	metaFieldMimeType protowire.Number = 3
)

// EncodeChunk frames a chunk as uvarint(headerLen) | header | data, where the
// header is protobuf wire encoded.
func EncodeChunk(c Chunk) []byte {
	var meta []byte
	meta = protowire.AppendTag(meta, metaFieldName, protowire.BytesType)
	meta = protowire.AppendString(meta, c.Meta.Name)
	meta = protowire.AppendTag(meta, metaFieldSize, protowire.VarintType)
	meta = protowire.AppendVarint(meta, uint64(c.Meta.Size))
	meta = protowire.AppendTag(meta, metaFieldMimeType, protowire.BytesType)
	meta = protowire.AppendString(meta, c.Meta.MimeType)

	var header []byte
	header = protowire.AppendTag(header, chunkFieldFileID, protowire.BytesType)
	header = protowire.AppendString(header, c.FileID)
	header = protowire.AppendTag(header, chunkFieldIndex, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(c.Index))
	header = protowire.AppendTag(header, chunkFieldTotal, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(c.Total))
	header = protowire.AppendTag(header, chunkFieldMeta, protowire.BytesType)
	header = protowire.AppendBytes(header, meta)

	out := make([]byte, 0, protowire.SizeVarint(uint64(len(header)))+len(header)+len(c.Data))
	out = protowire.AppendVarint(out, uint64(len(header)))
	out = append(out, header...)
	return append(out, c.Data...)
}

func DecodeChunk(frame []byte) (Chunk, error) {
	headerLen, n := protowire.ConsumeVarint(frame)
	if n < 0 {
		return Chunk{}, fmt.Errorf("%w: chunk header length", ErrMalformed)
	}
	frame = frame[n:]
	if headerLen > uint64(len(frame)) {
		return Chunk{}, fmt.Errorf("%w: chunk header truncated", ErrMalformed)
	}

	var c Chunk
	if err := decodeChunkHeader(frame[:headerLen], &c); err != nil {
		return Chunk{}, err
	}
	c.Data = append([]byte(nil), frame[headerLen:]...)

	switch {
	case c.FileID == "":
		return Chunk{}, fmt.Errorf("%w: chunk without file id", ErrMalformed)
	case c.Total == 0:
		return Chunk{}, fmt.Errorf("%w: chunk total is zero", ErrMalformed)
	case c.Index >= c.Total:
		return Chunk{}, fmt.Errorf("%w: chunk index %d out of %d", ErrMalformed, c.Index, c.Total)
	case c.Meta.Size < 0:
		return Chunk{}, fmt.Errorf("%w: negative file size", ErrMalformed)
	case uint64(c.Total) > max(1, uint64(c.Meta.Size)):
		// Every chunk but the one of an empty file carries at least one byte.
		return Chunk{}, fmt.Errorf("%w: %d chunks for %d bytes", ErrMalformed, c.Total, c.Meta.Size)
	}
	return c, nil
}

func decodeChunkHeader(b []byte, c *Chunk) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: chunk header tag", ErrMalformed)
		}
		b = b[n:]

		switch {
		case num == chunkFieldFileID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("%w: file id", ErrMalformed)
			}
			c.FileID = v
			b = b[n:]
		case num == chunkFieldIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || v > uint64(^uint32(0)) {
				return fmt.Errorf("%w: chunk index", ErrMalformed)
			}
			c.Index = uint32(v)
			b = b[n:]
		case num == chunkFieldTotal && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || v > uint64(^uint32(0)) {
				return fmt.Errorf("%w: chunk total", ErrMalformed)
			}
			c.Total = uint32(v)
			b = b[n:]
		case num == chunkFieldMeta && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: file metadata", ErrMalformed)
			}
			if err := decodeFileMeta(v, &c.Meta); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: chunk header field %d", ErrMalformed, num)
			}
			b = b[n:]
		}
	}
	return nil
}

func decodeFileMeta(b []byte, m *FileMeta) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: file metadata tag", ErrMalformed)
		}
		b = b[n:]

		switch {
		case num == metaFieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("%w: file name", ErrMalformed)
			}
			m.Name = v
			b = b[n:]
		case num == metaFieldSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: file size", ErrMalformed)
			}
			m.Size = int64(v)
			b = b[n:]
		case num == metaFieldMimeType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("%w: mime type", ErrMalformed)
			}
			m.MimeType = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: file metadata field %d", ErrMalformed, num)
			}
			b = b[n:]
		}
	}
	return nil
}
