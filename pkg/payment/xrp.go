package payment

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/telemetry"
	"github.com/agentmesh/agentmesh-go/pkg/xrpl"
)

// Ledger channel lifecycle states.
const (
	XRPStatusOpen   = "open"
	XRPStatusClosed = "closed"
)

// defaultSettleDelay is the channel's dispute window in seconds.
const defaultSettleDelay = 86400

// LedgerClient is what the XRP engine needs from the rippled client.
// *xrpl.Client satisfies it; tests substitute a fake.
type LedgerClient interface {
	Mode() xrpl.NetworkMode
	Submit(ctx context.Context, secret string, tx map[string]any) (*xrpl.SubmitResult, error)
	Tx(ctx context.Context, hash string) (*xrpl.TxInfo, error)
	LedgerAccept(ctx context.Context) error
	AccountChannels(ctx context.Context, account, destination string) ([]xrpl.Channel, error)
	AccountInfo(ctx context.Context, account string) (*xrpl.AccountData, error)
}

// XRPWallet is the ledger identity: classic address, submission secret, and
// the ed25519 key used for local claim signatures.
type XRPWallet struct {
	Account string
	Secret  string
	Key     ed25519.PrivateKey
}

// PublicKeyHex renders the wallet's public key in the ledger's ED-prefixed
// uppercase hex form.
func (w XRPWallet) PublicKeyHex() string {
	pub := w.Key.Public().(ed25519.PublicKey)
	return "ED" + strings.ToUpper(hex.EncodeToString(pub))
}

// XRPChannel is an immutable snapshot of one ledger channel.
type XRPChannel struct {
	ID          string `json:"channelId"`
	Peer        string `json:"peerId"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`  // deposited drops
	Balance     string `json:"balance"` // cumulative drops owed to destination
	Status      string `json:"status"`
	SettleDelay uint32 `json:"settleDelay"`
	PublicKey   string `json:"publicKey"`
}

type xrpChannel struct {
	mu      sync.Mutex
	snap    XRPChannel
	claimed string // cumulative drops already claimed on-ledger
}

// XRPEngine tracks unidirectional claim-signed channels on the ledger.
// Balances are 64-bit unsigned decimal strings mutated with big-integer
// arithmetic; claims are signed locally and submitted through the client.
type XRPEngine struct {
	ledger  LedgerClient
	wallet  XRPWallet
	emitter *telemetry.Emitter

	mu       sync.RWMutex
	channels map[string]*xrpChannel
	byPeer   map[string]string
}

// NewXRPEngine builds an engine over a connected ledger client. emitter may
// be nil in tests.
func NewXRPEngine(ledger LedgerClient, wallet XRPWallet, emitter *telemetry.Emitter) *XRPEngine {
	return &XRPEngine{
		ledger:   ledger,
		wallet:   wallet,
		emitter:  emitter,
		channels: make(map[string]*xrpChannel),
		byPeer:   make(map[string]string),
	}
}

// Account returns the wallet's classic address.
func (e *XRPEngine) Account() string { return e.wallet.Account }

func (e *XRPEngine) emit(t telemetry.Type, fields map[string]interface{}) {
	if e.emitter != nil {
		e.emitter.Emit(t, fields)
	}
}

// confirm finalizes a submission: a standalone ledger is advanced explicitly
// and the transaction fetched for its metadata; a live network is left to
// close the ledger itself.
func (e *XRPEngine) confirm(ctx context.Context, hash string) (*xrpl.TxInfo, error) {
	if e.ledger.Mode() == xrpl.ModeStandalone {
		if err := e.ledger.LedgerAccept(ctx); err != nil {
			return nil, fmt.Errorf("payment: advance ledger: %w", err)
		}
	}
	return e.ledger.Tx(ctx, hash)
}

// Open creates a channel toward destination with the given drops amount and
// tracks it under peerID.
func (e *XRPEngine) Open(ctx context.Context, peerID, destination, amount string, settleDelay uint32) (XRPChannel, error) {
	if _, err := xrpl.DropsUint64(amount); err != nil {
		return XRPChannel{}, err
	}
	if settleDelay == 0 {
		settleDelay = defaultSettleDelay
	}

	res, err := e.ledger.Submit(ctx, e.wallet.Secret, map[string]any{
		"TransactionType": "PaymentChannelCreate",
		"Account":         e.wallet.Account,
		"Destination":     destination,
		"Amount":          amount,
		"SettleDelay":     settleDelay,
		"PublicKey":       e.wallet.PublicKeyHex(),
	})
	if err != nil {
		return XRPChannel{}, fmt.Errorf("payment: channel create: %w", err)
	}
	if _, err := e.confirm(ctx, res.TxJSON.Hash); err != nil {
		return XRPChannel{}, err
	}

	id, err := e.findNewChannel(ctx, destination)
	if err != nil {
		return XRPChannel{}, err
	}

	snap := XRPChannel{
		ID:          id,
		Peer:        peerID,
		Destination: destination,
		Amount:      amount,
		Balance:     "0",
		Status:      XRPStatusOpen,
		SettleDelay: settleDelay,
		PublicKey:   e.wallet.PublicKeyHex(),
	}
	e.mu.Lock()
	e.channels[id] = &xrpChannel{snap: snap, claimed: "0"}
	e.byPeer[peerID] = id
	e.mu.Unlock()

	e.emit(telemetry.TypeAgentChannelOpened, map[string]interface{}{
		"chain": "xrp", "channelId": id, "peerId": peerID,
		"amount": amount, "txHash": res.TxJSON.Hash,
	})
	e.emit(telemetry.TypeXRPChannelOpened, map[string]interface{}{
		"channelId": id, "destination": destination, "amount": amount,
	})
	zap.L().Info("xrp channel opened",
		zap.String("channelId", id), zap.String("peerId", peerID))
	return snap, nil
}

// findNewChannel locates the ledger entry id of the channel just created:
// the account_channels row toward destination not yet tracked.
func (e *XRPEngine) findNewChannel(ctx context.Context, destination string) (string, error) {
	rows, err := e.ledger.AccountChannels(ctx, e.wallet.Account, destination)
	if err != nil {
		return "", fmt.Errorf("payment: list channels: %w", err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, row := range rows {
		if _, tracked := e.channels[row.ChannelID]; !tracked {
			return row.ChannelID, nil
		}
	}
	return "", errors.New("payment: created channel not found on ledger")
}

// ApplyOutgoing grows the channel balance toward peerID by amount drops.
// Returns false when the peer has no open ledger channel.
func (e *XRPEngine) ApplyOutgoing(peerID string, amount *big.Int) (XRPChannel, bool) {
	e.mu.RLock()
	id, ok := e.byPeer[peerID]
	var ch *xrpChannel
	if ok {
		ch = e.channels[id]
	}
	e.mu.RUnlock()
	if ch == nil {
		return XRPChannel{}, false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.snap.Status != XRPStatusOpen {
		return XRPChannel{}, false
	}
	prev := ch.snap.Balance
	next, err := xrpl.AddDrops(prev, amount.String())
	if err != nil {
		zap.L().Error("xrp balance mutation failed", zap.Error(err))
		return XRPChannel{}, false
	}
	ch.snap.Balance = next
	snap := ch.snap

	e.emit(telemetry.TypeAgentChannelBalanceUpdate, map[string]interface{}{
		"chain": "xrp", "channelId": snap.ID, "peerId": peerID,
		"previousBalance": prev, "balance": next,
	})
	return snap, true
}

// Claim signs the channel's cumulative balance, submits the claim
// transaction, and returns the claimed drops plus the transaction hash.
func (e *XRPEngine) Claim(ctx context.Context, channelID string) (string, string, error) {
	e.mu.RLock()
	ch, ok := e.channels[channelID]
	e.mu.RUnlock()
	if !ok {
		return "", "", ErrNoChannel
	}

	ch.mu.Lock()
	if ch.snap.Status != XRPStatusOpen {
		ch.mu.Unlock()
		return "", "", ErrChannelClosed
	}
	balance := ch.snap.Balance
	ch.mu.Unlock()

	drops, err := xrpl.DropsUint64(balance)
	if err != nil {
		return "", "", err
	}
	if drops == 0 {
		return "", "", errors.New("payment: nothing to claim")
	}
	id, err := xrpl.ParseChannelID(channelID)
	if err != nil {
		return "", "", err
	}
	sig := xrpl.SignClaim(e.wallet.Key, id, drops)

	res, err := e.ledger.Submit(ctx, e.wallet.Secret, map[string]any{
		"TransactionType": "PaymentChannelClaim",
		"Account":         e.wallet.Account,
		"Channel":         strings.ToUpper(channelID),
		"Balance":         balance,
		"Signature":       strings.ToUpper(hex.EncodeToString(sig)),
		"PublicKey":       e.wallet.PublicKeyHex(),
	})
	if err != nil {
		return "", "", fmt.Errorf("payment: claim: %w", err)
	}
	if _, err := e.confirm(ctx, res.TxJSON.Hash); err != nil {
		return "", "", err
	}

	ch.mu.Lock()
	ch.claimed = balance
	ch.mu.Unlock()

	e.emit(telemetry.TypeXRPChannelClaimed, map[string]interface{}{
		"channelId": channelID, "claimedAmount": balance,
		"txHash": res.TxJSON.Hash,
	})
	e.reconcileWallet(ctx, channelID)
	return balance, res.TxJSON.Hash, nil
}

// reconcileWallet sanity-checks the account root after a claim; a failed
// lookup is logged, a missing account raises WALLET_BALANCE_MISMATCH.
func (e *XRPEngine) reconcileWallet(ctx context.Context, channelID string) {
	info, err := e.ledger.AccountInfo(ctx, e.wallet.Account)
	if err != nil {
		zap.L().Warn("skipping xrp wallet reconciliation", zap.Error(err))
		return
	}
	if _, err := xrpl.DropsUint64(info.Balance); err != nil {
		e.emit(telemetry.TypeWalletBalanceMismatch, map[string]interface{}{
			"chain": "xrp", "channelId": channelID, "balance": info.Balance,
		})
	}
}

// Close marks the channel closed. The ledger-side expiry is driven by the
// channel's settle delay; this engine only advances local state.
func (e *XRPEngine) Close(channelID string) error {
	e.mu.RLock()
	ch, ok := e.channels[channelID]
	e.mu.RUnlock()
	if !ok {
		return ErrNoChannel
	}
	ch.mu.Lock()
	if ch.snap.Status != XRPStatusOpen {
		ch.mu.Unlock()
		return ErrChannelClosed
	}
	ch.snap.Status = XRPStatusClosed
	peer := ch.snap.Peer
	ch.mu.Unlock()

	e.emit(telemetry.TypeAgentChannelClosed, map[string]interface{}{
		"chain": "xrp", "channelId": channelID, "peerId": peer,
	})
	e.emit(telemetry.TypeXRPChannelClosed, map[string]interface{}{
		"channelId": channelID,
	})
	return nil
}

// ChannelByPeer returns the channel snapshot for a peer.
func (e *XRPEngine) ChannelByPeer(peerID string) (XRPChannel, bool) {
	e.mu.RLock()
	id, ok := e.byPeer[peerID]
	var ch *xrpChannel
	if ok {
		ch = e.channels[id]
	}
	e.mu.RUnlock()
	if ch == nil {
		return XRPChannel{}, false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snap, true
}

// Snapshot returns copies of every tracked channel.
func (e *XRPEngine) Snapshot() []XRPChannel {
	e.mu.RLock()
	chans := make([]*xrpChannel, 0, len(e.channels))
	for _, ch := range e.channels {
		chans = append(chans, ch)
	}
	e.mu.RUnlock()

	out := make([]XRPChannel, 0, len(chans))
	for _, ch := range chans {
		ch.mu.Lock()
		out = append(out, ch.snap)
		ch.mu.Unlock()
	}
	return out
}
