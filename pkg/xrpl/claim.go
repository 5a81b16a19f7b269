package xrpl

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// claimPrefix is the ledger's payment-channel claim domain tag.
var claimPrefix = []byte("CLM\x00")

// claimDigest builds the signed payload: prefix, 32-byte channel id, drops
// as an 8-byte big-endian integer.
func claimDigest(channelID [32]byte, drops uint64) []byte {
	buf := make([]byte, 0, len(claimPrefix)+32+8)
	buf = append(buf, claimPrefix...)
	buf = append(buf, channelID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, drops)
	return buf
}

// SignClaim signs a channel claim for the cumulative drops amount with the
// wallet's ed25519 key.
func SignClaim(priv ed25519.PrivateKey, channelID [32]byte, drops uint64) []byte {
	return ed25519.Sign(priv, claimDigest(channelID, drops))
}

// VerifyClaim reports whether sig is a valid claim signature by pub.
func VerifyClaim(pub ed25519.PublicKey, channelID [32]byte, drops uint64, sig []byte) bool {
	return ed25519.Verify(pub, claimDigest(channelID, drops), sig)
}

// KeyFromSeedHex derives an ed25519 keypair from a hex-encoded 32-byte seed.
func KeyFromSeedHex(seed string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("xrpl: decode seed: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, errors.New("xrpl: seed must be 32 bytes")
	}
	return ed25519.NewKeyFromSeed(raw), nil
}

// ParseChannelID decodes a 64-char hex channel id.
func ParseChannelID(s string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("xrpl: decode channel id: %w", err)
	}
	if len(raw) != 32 {
		return id, errors.New("xrpl: channel id must be 32 bytes")
	}
	copy(id[:], raw)
	return id, nil
}
