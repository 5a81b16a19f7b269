package payment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agentmesh/agentmesh-go/pkg/blockchain"
)

// BalanceProof is one side's off-chain channel state: the highest nonce and
// the cumulative amount transferred toward the counterparty.
type BalanceProof struct {
	ChannelID   [32]byte
	Nonce       uint64
	Transferred *big.Int
}

// DomainSeparator binds proofs to one chain and one token network so a
// signature cannot be replayed across deployments.
func DomainSeparator(chainID *big.Int, tokenNetwork common.Address) []byte {
	return crypto.Keccak256(blockchain.BigIntToBytes(chainID), tokenNetwork.Bytes())
}

// Encode produces the canonical signing payload:
//
//	domain ‖ channelID ‖ nonce(32) ‖ transferred(32) ‖ locked=0(32) ‖ locksRoot=0(32)
//
// Locked amounts and the locks root are fixed at zero: this core carries no
// hash-locked transfers in proofs.
func (p BalanceProof) Encode(domain []byte) []byte {
	var zero32 [32]byte
	buf := make([]byte, 0, len(domain)+32*5)
	buf = append(buf, domain...)
	buf = append(buf, p.ChannelID[:]...)
	buf = append(buf, blockchain.BigIntToBytes(new(big.Int).SetUint64(p.Nonce))...)
	buf = append(buf, blockchain.BigIntToBytes(p.Transferred)...)
	buf = append(buf, zero32[:]...)
	buf = append(buf, zero32[:]...)
	return buf
}

// Verify reports whether sig is signer's personal-sign signature over the
// canonical encoding of p.
func (p BalanceProof) Verify(domain []byte, sig []byte, signer common.Address) bool {
	recovered, err := blockchain.RecoverSigner(p.Encode(domain), sig)
	if err != nil {
		return false
	}
	return recovered == signer
}
