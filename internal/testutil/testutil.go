// Package testutil holds the deterministic fakes shared by the node and
// httpapi tests: a scripted model client, an in-memory settlement chain and
// an in-memory rippled transport.
package testutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agentmesh/agentmesh-go/pkg/agent"
	"github.com/agentmesh/agentmesh-go/pkg/blockchain"
	"github.com/agentmesh/agentmesh-go/pkg/payment"
	"github.com/agentmesh/agentmesh-go/pkg/xrpl"
)

// ScriptedModel plays back a fixed completion response and records every
// request it saw. It implements agent.ModelClient.
type ScriptedModel struct {
	mu       sync.Mutex
	Response *agent.CompletionResponse
	Err      error
	Requests []agent.CompletionRequest
}

// Complete implements agent.ModelClient.
func (m *ScriptedModel) Complete(_ context.Context, req agent.CompletionRequest) (*agent.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response == nil {
		return &agent.CompletionResponse{Text: "ok"}, nil
	}
	return m.Response, nil
}

// Calls returns how many times the model was invoked.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// FakeChain is an in-memory payment.SettlementChain with a real signing key.
type FakeChain struct {
	Key       *ecdsa.PrivateKey
	OpenID    [32]byte
	OpenErr   error
	SettleErr error
	Settled   []blockchain.SettleSide
	// Balances are successive TokenBalance answers; empty errors the call.
	Balances []*big.Int
}

// NewFakeChain returns a chain fake whose signatures verify for real.
func NewFakeChain(t *testing.T) *FakeChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fc := &FakeChain{Key: key}
	fc.OpenID[0] = 0xC1
	return fc
}

func (f *FakeChain) Account() common.Address { return crypto.PubkeyToAddress(f.Key.PublicKey) }
func (f *FakeChain) ChainID() *big.Int       { return big.NewInt(31337) }
func (f *FakeChain) TokenNetworkAddress() common.Address {
	return common.HexToAddress("0x0000000000000000000000000000000000000011")
}
func (f *FakeChain) Sign(message []byte) []byte {
	return blockchain.GetSignature(message, f.Key)
}
func (f *FakeChain) OpenChannel(_ context.Context, _ common.Address, _ *big.Int, _ uint64) ([32]byte, common.Hash, error) {
	return f.OpenID, common.HexToHash("0xbeef"), f.OpenErr
}
func (f *FakeChain) CooperativeSettle(_ context.Context, _ [32]byte, side1, side2 blockchain.SettleSide) (common.Hash, error) {
	if f.SettleErr != nil {
		return common.Hash{}, f.SettleErr
	}
	f.Settled = append(f.Settled, side1, side2)
	return common.HexToHash("0xfeed"), nil
}
func (f *FakeChain) TokenBalance(_ context.Context, _ common.Address) (*big.Int, error) {
	if len(f.Balances) == 0 {
		return nil, errors.New("no scripted balance")
	}
	bal := f.Balances[0]
	f.Balances = f.Balances[1:]
	return bal, nil
}

// FakeLedger is an in-memory payment.LedgerClient.
type FakeLedger struct {
	NetworkMode xrpl.NetworkMode
	Accepts     int
	Submitted   []map[string]any
	SubmitErr   error
	ChannelID   string
	AccountData xrpl.AccountData
}

func (f *FakeLedger) Mode() xrpl.NetworkMode { return f.NetworkMode }
func (f *FakeLedger) Submit(_ context.Context, _ string, tx map[string]any) (*xrpl.SubmitResult, error) {
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}
	f.Submitted = append(f.Submitted, tx)
	return &xrpl.SubmitResult{
		EngineResult: "tesSUCCESS",
		TxJSON:       xrpl.TxInfo{Hash: "HASH1"},
	}, nil
}
func (f *FakeLedger) Tx(_ context.Context, hash string) (*xrpl.TxInfo, error) {
	return &xrpl.TxInfo{Hash: hash}, nil
}
func (f *FakeLedger) LedgerAccept(_ context.Context) error {
	f.Accepts++
	return nil
}
func (f *FakeLedger) AccountChannels(_ context.Context, account, destination string) ([]xrpl.Channel, error) {
	return []xrpl.Channel{{
		ChannelID:          f.ChannelID,
		Account:            account,
		DestinationAccount: destination,
	}}, nil
}
func (f *FakeLedger) AccountInfo(_ context.Context, _ string) (*xrpl.AccountData, error) {
	out := f.AccountData
	return &out, nil
}

// NewWallet returns a throwaway ed25519 ledger wallet.
func NewWallet(t *testing.T) payment.XRPWallet {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return payment.XRPWallet{Account: "rSelf", Secret: "shhh", Key: priv}
}
