package payment

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agentmesh/agentmesh-go/pkg/blockchain"
)

func TestProofEncodeLayout(t *testing.T) {
	domain := DomainSeparator(big.NewInt(31337), common.HexToAddress("0x01"))
	if len(domain) != 32 {
		t.Fatalf("domain length = %d", len(domain))
	}

	var id [32]byte
	id[0] = 0xAA
	p := BalanceProof{ChannelID: id, Nonce: 7, Transferred: big.NewInt(1500)}
	enc := p.Encode(domain)
	if len(enc) != 32+32*5 {
		t.Fatalf("encoding length = %d", len(enc))
	}
	if !bytes.Equal(enc[:32], domain) {
		t.Error("domain not leading")
	}
	if enc[32] != 0xAA {
		t.Error("channel id not after domain")
	}
	if enc[95] != 7 {
		t.Error("nonce not big-endian 32 bytes")
	}
	// Locked amount and locks root stay zero.
	for _, b := range enc[160:] {
		if b != 0 {
			t.Fatal("trailing words must be zero")
		}
	}
}

func TestProofDomainSeparation(t *testing.T) {
	d1 := DomainSeparator(big.NewInt(1), common.HexToAddress("0x01"))
	d2 := DomainSeparator(big.NewInt(2), common.HexToAddress("0x01"))
	d3 := DomainSeparator(big.NewInt(1), common.HexToAddress("0x02"))
	if bytes.Equal(d1, d2) || bytes.Equal(d1, d3) {
		t.Error("domains must differ per chain and contract")
	}
}

func TestProofSignVerify(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	domain := DomainSeparator(big.NewInt(31337), common.HexToAddress("0x01"))

	p := BalanceProof{Nonce: 3, Transferred: big.NewInt(100)}
	sig := blockchain.GetSignature(p.Encode(domain), key)

	if !p.Verify(domain, sig, signer) {
		t.Fatal("valid proof rejected")
	}

	tampered := p
	tampered.Transferred = big.NewInt(101)
	if tampered.Verify(domain, sig, signer) {
		t.Fatal("tampered proof verified")
	}

	other, _ := crypto.GenerateKey()
	if p.Verify(domain, sig, crypto.PubkeyToAddress(other.PublicKey)) {
		t.Fatal("proof verified against the wrong signer")
	}
}
