package blockchain

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HashPrefix32Bytes is the standard Ethereum personal-sign prefix for 32-byte
// payloads.
var HashPrefix32Bytes = []byte("\x19Ethereum Signed Message:\n32")

// maxUint256 is the maximum uint256 value (2^256 - 1). Useful for setting
// ERC-20 allowances to "unlimited".
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// tokenDecimals is the smallest-unit exponent of the settlement token.
const tokenDecimals = 18

// GetAddressFromPrivateKeyECDSA derives the Ethereum address from the given
// ECDSA private key. It returns nil if the key is nil or its public part cannot
// be asserted to *ecdsa.PublicKey.
func GetAddressFromPrivateKeyECDSA(privateKeyECDSA *ecdsa.PrivateKey) *common.Address {
	if privateKeyECDSA == nil {
		return nil
	}
	publicKey := privateKeyECDSA.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil
	}
	addr := crypto.PubkeyToAddress(*publicKeyECDSA)
	return &addr
}

// ParsePrivateKeyECDSA parses a hex-encoded ECDSA private key and returns the
// corresponding Ethereum address together with the private key object.
// It returns an error if the hex string is invalid or the public key cannot be
// derived from the private key.
func ParsePrivateKeyECDSA(privateKey string) (common.Address, *ecdsa.PrivateKey, error) {
	privateKeyECDSA, err := crypto.HexToECDSA(privateKey)
	if err != nil {
		return common.Address{}, nil, err
	}

	publicKey := privateKeyECDSA.Public()

	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return common.Address{}, nil, errors.New("failed to get public key")
	}

	address := crypto.PubkeyToAddress(*publicKeyECDSA)
	return address, privateKeyECDSA, nil
}

// BigIntToBytes converts a *big.Int value to a 32-byte big-endian slice, using
// the same formatting that Ethereum commonly applies to integers in ABI/keccak
// contexts (common.BigToHash).
func BigIntToBytes(value *big.Int) []byte {
	return common.BigToHash(value).Bytes()
}

// TokensToBase converts a human token amount to its smallest unit
// (18 decimals). The input is a decimal string, e.g. "1.5".
func TokensToBase(amount string) (*big.Int, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	scaled := dec.Shift(tokenDecimals)
	if !scaled.IsInteger() {
		return nil, errors.New("amount has more than 18 decimal places")
	}
	base, ok := new(big.Int).SetString(scaled.String(), 10)
	if !ok {
		return nil, errors.New("amount is not a valid decimal")
	}
	return base, nil
}

// BaseToTokens converts a smallest-unit amount (18 decimals) into the human
// token amount as a decimal.Decimal.
func BaseToTokens(value *big.Int) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	num, err := decimal.NewFromString(value.String())
	if err != nil {
		zap.L().Error("failed to convert big int to decimal", zap.Error(err))
		return decimal.Zero
	}
	return num.Shift(-tokenDecimals)
}

// uint64ToBytes encodes a uint64 as an 8-byte big-endian slice.
func uint64ToBytes(val uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, val)
	return buf
}

// StringToBytes32 returns a right-padded [32]byte containing at most the first
// 32 bytes of the provided string.
func StringToBytes32(str string) [32]byte {
	var byte32 [32]byte
	copy(byte32[:], str)
	return byte32
}

// GetSignature produces an Ethereum-compatible personal-sign (EIP-191 style)
// signature over the given message. It hashes the payload as
// keccak256("\x19Ethereum Signed Message:\n32" || keccak256(message)) and
// signs with the provided ECDSA private key.
//
// Returns the 65-byte signature (R||S||V). On signing error it logs and returns nil.
func GetSignature(message []byte, privateKeyECDSA *ecdsa.PrivateKey) []byte {
	hash := crypto.Keccak256(
		HashPrefix32Bytes,
		crypto.Keccak256(message),
	)

	signature, err := crypto.Sign(hash, privateKeyECDSA)
	if err != nil {
		zap.L().Error("failed to sign message", zap.Error(err))
	}

	return signature
}

// RecoverSigner recovers the address that produced a GetSignature-style
// personal-sign signature over message.
func RecoverSigner(message, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}
	hash := crypto.Keccak256(
		HashPrefix32Bytes,
		crypto.Keccak256(message),
	)
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
