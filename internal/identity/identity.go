// Package identity holds the local Ed25519 keypair and derives peer ids from it.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const shortIDLen = 8

var ErrInvalidKey = errors.New("invalid key")

type Keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

type exported struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	return &Keypair{public: pub, private: priv}, nil
}

// Import parses the form produced by Export. The private key is the 32-byte seed.
func Import(encoded string) (*Keypair, error) {
	var e exported
	if err := json.Unmarshal([]byte(encoded), &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	pub, err := ParsePublicKey(e.PublicKey)
	if err != nil {
		return nil, err
	}

	seed, err := base64.StdEncoding.DecodeString(e.PrivateKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: private key", ErrInvalidKey)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	if !pub.Equal(priv.Public()) {
		return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
	}

	return &Keypair{public: pub, private: priv}, nil
}

func (k *Keypair) Export() (string, error) {
	data, err := json.Marshal(exported{
		PublicKey:  k.PublicKey(),
		PrivateKey: base64.StdEncoding.EncodeToString(k.private.Seed()),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PublicKey returns the canonical base64 encoding of the public key.
func (k *Keypair) PublicKey() string {
	return base64.StdEncoding.EncodeToString(k.public)
}

// PeerID is the long-form peer id, identical to PublicKey.
func (k *Keypair) PeerID() string {
	return k.PublicKey()
}

func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key", ErrInvalidKey)
	}
	return ed25519.PublicKey(raw), nil
}

// Verify reports whether sig is a valid signature of msg by the base64 encoded public key.
// A malformed key never verifies.
func Verify(publicKey string, msg, sig []byte) bool {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// ShortID is the display form of a peer id.
func ShortID(peerID string) string {
	if len(peerID) <= shortIDLen {
		return peerID
	}
	return peerID[:shortIDLen]
}
