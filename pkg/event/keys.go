package event

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// GeneratePrivateKey returns a fresh signing key.
func GeneratePrivateKey() (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("event: generate key: %w", err)
	}
	return priv, nil
}

// ParsePrivateKey decodes a 32-byte hex private key.
func ParsePrivateKey(hexKey string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("event: decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("event: private key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// PublicKeyHex returns the 32-byte x-only public key for priv, hex encoded.
func PublicKeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
}

// PrivateKeyHex returns the 32-byte private scalar, hex encoded.
func PrivateKeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(priv.Serialize())
}

// ValidPubKey reports whether s is a well-formed 32-byte hex key.
func ValidPubKey(s string) bool {
	raw, err := hex.DecodeString(s)
	return err == nil && len(raw) == 32
}
