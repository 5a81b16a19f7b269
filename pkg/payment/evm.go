package payment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/blockchain"
	"github.com/agentmesh/agentmesh-go/pkg/telemetry"
)

// Channel lifecycle states.
const (
	StatusOpened  = "opened"
	StatusSettled = "settled"
)

var (
	// ErrNoChannel is returned when no channel matches the lookup.
	ErrNoChannel = errors.New("payment: no such channel")
	// ErrChannelClosed is returned for mutations on a settled or closed
	// channel.
	ErrChannelClosed = errors.New("payment: channel is not open")
)

// SettlementChain is what the EVM engine needs from the chain client.
// *blockchain.EVMClient satisfies it; tests substitute a fake.
type SettlementChain interface {
	Account() common.Address
	ChainID() *big.Int
	TokenNetworkAddress() common.Address
	Sign(message []byte) []byte
	OpenChannel(ctx context.Context, partner common.Address, deposit *big.Int, settleTimeout uint64) ([32]byte, common.Hash, error)
	CooperativeSettle(ctx context.Context, channelID [32]byte, side1, side2 blockchain.SettleSide) (common.Hash, error)
	TokenBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// EVMChannel is an immutable snapshot of one channel's state.
type EVMChannel struct {
	ID          string   `json:"channelId"`
	Peer        string   `json:"peerId"`
	PeerAccount string   `json:"peerAccount"`
	Deposit     *big.Int `json:"deposit"`
	Nonce       uint64   `json:"nonce"`
	Transferred *big.Int `json:"transferred"`
	Status      string   `json:"status"`
}

type evmChannel struct {
	mu          sync.Mutex
	id          [32]byte
	peer        string
	peerAccount common.Address
	deposit     *big.Int
	nonce       uint64
	transferred *big.Int
	status      string
}

func (c *evmChannel) snapshotLocked() EVMChannel {
	return EVMChannel{
		ID:          hex.EncodeToString(c.id[:]),
		Peer:        c.peer,
		PeerAccount: c.peerAccount.Hex(),
		Deposit:     new(big.Int).Set(c.deposit),
		Nonce:       c.nonce,
		Transferred: new(big.Int).Set(c.transferred),
		Status:      c.status,
	}
}

// EVMEngine tracks bilateral channels on the settlement chain and their
// off-chain balance proofs. Per-channel mutation is serialized by a
// per-channel mutex; the engine map itself by an RWMutex.
type EVMEngine struct {
	chain   SettlementChain
	emitter *telemetry.Emitter
	domain  []byte

	mu       sync.RWMutex
	channels map[string]*evmChannel
	byPeer   map[string]string
}

// NewEVMEngine builds an engine over a connected chain client. emitter may
// be nil in tests.
func NewEVMEngine(chain SettlementChain, emitter *telemetry.Emitter) *EVMEngine {
	return &EVMEngine{
		chain:    chain,
		emitter:  emitter,
		domain:   DomainSeparator(chain.ChainID(), chain.TokenNetworkAddress()),
		channels: make(map[string]*evmChannel),
		byPeer:   make(map[string]string),
	}
}

// Account returns the engine's settlement address.
func (e *EVMEngine) Account() common.Address { return e.chain.Account() }

func (e *EVMEngine) emit(t telemetry.Type, fields map[string]interface{}) {
	if e.emitter != nil {
		e.emitter.Emit(t, fields)
	}
}

// Open opens a channel toward peerAccount with the given deposit and tracks
// it under peerID.
func (e *EVMEngine) Open(ctx context.Context, peerID string, peerAccount common.Address, deposit *big.Int) (EVMChannel, error) {
	id, txHash, err := e.chain.OpenChannel(ctx, peerAccount, deposit, 0)
	if err != nil {
		return EVMChannel{}, fmt.Errorf("payment: open channel: %w", err)
	}

	ch := &evmChannel{
		id:          id,
		peer:        peerID,
		peerAccount: peerAccount,
		deposit:     new(big.Int).Set(deposit),
		transferred: new(big.Int),
		status:      StatusOpened,
	}
	idHex := hex.EncodeToString(id[:])

	e.mu.Lock()
	e.channels[idHex] = ch
	e.byPeer[peerID] = idHex
	e.mu.Unlock()

	snap := ch.snapshotLocked()
	e.emit(telemetry.TypeAgentChannelOpened, map[string]interface{}{
		"chain": "evm", "channelId": idHex, "peerId": peerID,
		"deposit": deposit.String(), "txHash": txHash.Hex(),
	})
	e.emit(telemetry.TypePaymentChannelOpened, map[string]interface{}{
		"channelId": idHex, "peerAccount": peerAccount.Hex(),
		"deposit": deposit.String(),
	})
	zap.L().Info("evm channel opened",
		zap.String("channelId", idHex), zap.String("peerId", peerID))
	return snap, nil
}

// lookup returns the live channel for a channel id.
func (e *EVMEngine) lookup(channelID string) (*evmChannel, error) {
	e.mu.RLock()
	ch, ok := e.channels[channelID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNoChannel
	}
	return ch, nil
}

// ApplyOutgoing advances the off-chain state for an outgoing prepare toward
// peerID: nonce increments and transferred grows by amount. Returns false
// when the peer has no open channel here.
func (e *EVMEngine) ApplyOutgoing(peerID string, amount *big.Int) (EVMChannel, bool) {
	e.mu.RLock()
	idHex, ok := e.byPeer[peerID]
	var ch *evmChannel
	if ok {
		ch = e.channels[idHex]
	}
	e.mu.RUnlock()
	if ch == nil {
		return EVMChannel{}, false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.status != StatusOpened {
		return EVMChannel{}, false
	}
	prev := ch.transferred.String()
	ch.nonce++
	ch.transferred = new(big.Int).Add(ch.transferred, amount)
	snap := ch.snapshotLocked()

	e.emit(telemetry.TypeAgentChannelBalanceUpdate, map[string]interface{}{
		"chain": "evm", "channelId": snap.ID, "peerId": peerID,
		"nonce": snap.Nonce, "previousTransferred": prev,
		"transferred": snap.Transferred.String(),
	})
	e.emit(telemetry.TypePaymentChannelBalanceUpdate, map[string]interface{}{
		"channelId": snap.ID, "nonce": snap.Nonce,
		"transferred": snap.Transferred.String(),
	})
	return snap, true
}

// SignProof signs a balance proof for the channel with the engine's
// settlement key and returns the signature plus the signer account.
func (e *EVMEngine) SignProof(channelID string, nonce uint64, transferred *big.Int) ([]byte, common.Address, error) {
	ch, err := e.lookup(channelID)
	if err != nil {
		return nil, common.Address{}, err
	}
	proof := BalanceProof{ChannelID: ch.id, Nonce: nonce, Transferred: transferred}
	sig := e.chain.Sign(proof.Encode(e.domain))
	if sig == nil {
		return nil, common.Address{}, errors.New("payment: proof signing failed")
	}
	return sig, e.chain.Account(), nil
}

// RemoteProof is the counterparty's half of a cooperative settle.
type RemoteProof struct {
	Account     common.Address
	Transferred *big.Int
	Signature   []byte
}

// Settle performs a cooperative settle: the local side is signed here, the
// remote side is verified against the same channel and nonce, then both are
// submitted. On success the channel is marked settled and the wallet token
// balance is reconciled against the expected net amount.
func (e *EVMEngine) Settle(ctx context.Context, channelID string, remote RemoteProof) (common.Hash, error) {
	ch, err := e.lookup(channelID)
	if err != nil {
		return common.Hash{}, err
	}

	ch.mu.Lock()
	if ch.status != StatusOpened {
		ch.mu.Unlock()
		return common.Hash{}, ErrChannelClosed
	}
	if ch.peerAccount != remote.Account {
		ch.mu.Unlock()
		return common.Hash{}, errors.New("payment: remote proof is not by the channel peer")
	}
	nonce := ch.nonce
	localTransferred := new(big.Int).Set(ch.transferred)
	id := ch.id
	ch.mu.Unlock()

	remoteProof := BalanceProof{ChannelID: id, Nonce: nonce, Transferred: remote.Transferred}
	if !remoteProof.Verify(e.domain, remote.Signature, remote.Account) {
		return common.Hash{}, errors.New("payment: remote proof signature invalid")
	}
	localProof := BalanceProof{ChannelID: id, Nonce: nonce, Transferred: localTransferred}
	localSig := e.chain.Sign(localProof.Encode(e.domain))

	preBalance, balErr := e.chain.TokenBalance(ctx, e.chain.Account())

	txHash, err := e.chain.CooperativeSettle(ctx, id,
		blockchain.SettleSide{Participant: e.chain.Account(), Transferred: localTransferred, Signature: localSig},
		blockchain.SettleSide{Participant: remote.Account, Transferred: remote.Transferred, Signature: remote.Signature},
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("payment: cooperative settle: %w", err)
	}

	ch.mu.Lock()
	ch.status = StatusSettled
	ch.mu.Unlock()

	e.emit(telemetry.TypePaymentChannelSettled, map[string]interface{}{
		"channelId": channelID, "nonce": nonce,
		"transferred": localTransferred.String(),
		"txHash":      txHash.Hex(),
	})
	e.reconcileWallet(ctx, channelID, preBalance, balErr,
		new(big.Int).Sub(remote.Transferred, localTransferred))
	return txHash, nil
}

// reconcileWallet compares the post-settle token balance to the expected
// movement and raises WALLET_BALANCE_MISMATCH when they disagree.
func (e *EVMEngine) reconcileWallet(ctx context.Context, channelID string, pre *big.Int, preErr error, expectedDelta *big.Int) {
	if preErr != nil {
		zap.L().Warn("skipping wallet reconciliation", zap.Error(preErr))
		return
	}
	post, err := e.chain.TokenBalance(ctx, e.chain.Account())
	if err != nil {
		zap.L().Warn("skipping wallet reconciliation", zap.Error(err))
		return
	}
	actual := new(big.Int).Sub(post, pre)
	if actual.Cmp(expectedDelta) != 0 {
		e.emit(telemetry.TypeWalletBalanceMismatch, map[string]interface{}{
			"chain": "evm", "channelId": channelID,
			"expectedDelta": expectedDelta.String(),
			"actualDelta":   actual.String(),
		})
		zap.L().Warn("wallet balance mismatch after settle",
			zap.String("channelId", channelID),
			zap.String("expected", expectedDelta.String()),
			zap.String("actual", actual.String()))
	}
}

// ChannelByPeer returns the open channel snapshot for a peer.
func (e *EVMEngine) ChannelByPeer(peerID string) (EVMChannel, bool) {
	e.mu.RLock()
	idHex, ok := e.byPeer[peerID]
	var ch *evmChannel
	if ok {
		ch = e.channels[idHex]
	}
	e.mu.RUnlock()
	if ch == nil {
		return EVMChannel{}, false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snapshotLocked(), true
}

// Channel returns the snapshot for a channel id.
func (e *EVMEngine) Channel(channelID string) (EVMChannel, error) {
	ch, err := e.lookup(channelID)
	if err != nil {
		return EVMChannel{}, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snapshotLocked(), nil
}

// Snapshot returns copies of every tracked channel.
func (e *EVMEngine) Snapshot() []EVMChannel {
	e.mu.RLock()
	chans := make([]*evmChannel, 0, len(e.channels))
	for _, ch := range e.channels {
		chans = append(chans, ch)
	}
	e.mu.RUnlock()

	out := make([]EVMChannel, 0, len(chans))
	for _, ch := range chans {
		ch.mu.Lock()
		out = append(out, ch.snapshotLocked())
		ch.mu.Unlock()
	}
	return out
}
