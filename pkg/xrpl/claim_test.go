package xrpl

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
)

func testKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestClaimRoundTrip(t *testing.T) {
	pub, priv := testKey(t)
	var channelID [32]byte
	copy(channelID[:], "channel-under-test")

	sig := SignClaim(priv, channelID, 250000)
	if !VerifyClaim(pub, channelID, 250000, sig) {
		t.Fatal("valid claim rejected")
	}
	if VerifyClaim(pub, channelID, 250001, sig) {
		t.Fatal("claim verified for a different amount")
	}
	var other [32]byte
	other[0] = 0xFF
	if VerifyClaim(pub, other, 250000, sig) {
		t.Fatal("claim verified for a different channel")
	}
}

func TestClaimDigestLayout(t *testing.T) {
	var channelID [32]byte
	channelID[31] = 0x01
	d := claimDigest(channelID, 0x0203040506070809)
	if len(d) != 4+32+8 {
		t.Fatalf("digest length = %d", len(d))
	}
	if string(d[:4]) != "CLM\x00" {
		t.Errorf("prefix = %q", d[:4])
	}
	if d[4+31] != 0x01 {
		t.Error("channel id not copied")
	}
	if d[36] != 0x02 || d[43] != 0x09 {
		t.Error("drops not big-endian")
	}
}

func TestKeyFromSeedHex(t *testing.T) {
	seed := strings.Repeat("ab", 32)
	priv, err := KeyFromSeedHex(seed)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		t.Fatalf("key length = %d", len(priv))
	}
	if _, err := KeyFromSeedHex("zz"); err == nil {
		t.Error("bad hex accepted")
	}
	if _, err := KeyFromSeedHex("abcd"); err == nil {
		t.Error("short seed accepted")
	}
}

func TestParseChannelID(t *testing.T) {
	id, err := ParseChannelID(strings.Repeat("0a", 32))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id[0] != 0x0a || id[31] != 0x0a {
		t.Errorf("id = %x", id)
	}
	if _, err := ParseChannelID("abcd"); err == nil {
		t.Error("short id accepted")
	}
	if _, err := ParseChannelID(strings.Repeat("zz", 32)); err == nil {
		t.Error("bad hex accepted")
	}
}
