package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	encoded, err := kp.Export()
	require.NoError(t, err)

	imported, err := Import(encoded)
	require.NoError(t, err)

	again, err := imported.Export()
	require.NoError(t, err)
	assert.Equal(t, encoded, again)
	assert.Equal(t, kp.PeerID(), imported.PeerID())
}

func TestSignVerify(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	msg := []byte("challenge nonce")
	sig := kp.Sign(msg)

	assert.True(t, Verify(kp.PublicKey(), msg, sig))
	assert.False(t, Verify(other.PublicKey(), msg, sig), "other public key must not verify")

	mutated := append([]byte{}, msg...)
	mutated[0] ^= 0xff
	assert.False(t, Verify(kp.PublicKey(), mutated, sig), "mutated message must not verify")
}

func TestVerifyMalformedKey(t *testing.T) {
	assert.False(t, Verify("not-base64!!", []byte("x"), []byte("y")))
	assert.False(t, Verify("AAAA", []byte("x"), []byte("y")))
}

func TestImportRejectsBadInput(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	tests := []struct {
		name    string
		encoded string
	}{
		{"not json", "{"},
		{"empty", "{}"},
		{"bad private", `{"publicKey":"` + kp.PublicKey() + `","privateKey":"AAAA"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(tt.encoded)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}

	encodedOther, err := other.Export()
	require.NoError(t, err)
	otherImported, err := Import(encodedOther)
	require.NoError(t, err)
	mismatched := `{"publicKey":"` + kp.PublicKey() + `","privateKey":"` + seedOf(t, otherImported) + `"}`
	_, err = Import(mismatched)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefgh", ShortID("abcdefghijkl"))
	assert.Equal(t, "abc", ShortID("abc"))
}

func seedOf(t *testing.T, kp *Keypair) string {
	t.Helper()
	encoded, err := kp.Export()
	require.NoError(t, err)
	var e exported
	require.NoError(t, json.Unmarshal([]byte(encoded), &e))
	return e.PrivateKey
}
