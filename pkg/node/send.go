package node

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/router"
	"github.com/agentmesh/agentmesh-go/pkg/telemetry"
)

// PacketExpiry is how long an outbound prepare stays answerable.
const PacketExpiry = 30 * time.Second

// SendEvent offers ev to peerID as a prepare carrying amount. The pending
// record is created before the frame is written; the response resolves it
// asynchronously and moves the amount onto a channel ledger.
func (n *Node) SendEvent(ctx context.Context, peerID string, ev *event.Event, amount *big.Int) error {
	peer, ok := n.router.Peer(peerID)
	if !ok {
		return fmt.Errorf("node: unknown peer %q", peerID)
	}
	return n.sendPrepare(ctx, peer.ID, peer.Address, ev, amount)
}

// ForwardEvent relays ev toward destination through the longest-prefix next
// hop. It implements skills.Forwarder for the forward_event skill.
func (n *Node) ForwardEvent(ctx context.Context, destination string, ev *event.Event, amount *big.Int) error {
	hop, ok := n.router.NextHop(destination)
	if !ok {
		return fmt.Errorf("%w: %s", router.ErrNoRoute, destination)
	}
	if err := n.sendPrepare(ctx, hop.ID, destination, ev, amount); err != nil {
		return err
	}
	n.metrics.forwarded.Inc()
	n.emitter.Emit(telemetry.TypePacketForwarded, map[string]interface{}{
		"peerId":      hop.ID,
		"destination": destination,
		"eventId":     ev.ID,
		"amount":      amountString(amount),
	})
	return nil
}

// Broadcast offers ev to every follow with a resolvable route and returns how
// many sends succeeded. Per-follow failures are logged, not fatal.
func (n *Node) Broadcast(ctx context.Context, ev *event.Event, amount *big.Int) (int, error) {
	if err := n.signIfNeeded(ev); err != nil {
		return 0, err
	}
	sent := 0
	for _, f := range n.router.Follows() {
		hop, ok := n.router.NextHop(f.Address)
		if !ok {
			zap.L().Debug("follow has no route",
				zap.String("pubkey", f.PubKey), zap.String("address", f.Address))
			continue
		}
		if err := n.sendPrepare(ctx, hop.ID, f.Address, ev, amount); err != nil {
			zap.L().Warn("broadcast send failed",
				zap.String("peer", hop.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

// sendPrepare builds, registers and writes one prepare toward peerID.
func (n *Node) sendPrepare(_ context.Context, peerID, destination string, ev *event.Event, amount *big.Int) error {
	if err := n.signIfNeeded(ev); err != nil {
		return err
	}
	conn := n.conn(peerID)
	if conn == nil {
		return fmt.Errorf("node: peer %q is not connected", peerID)
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	expires := time.Now().Add(PacketExpiry)
	if err := n.pending.Create(pendingPacket{
		PeerID:      peerID,
		EventID:     ev.ID,
		Destination: destination,
		Amount:      new(big.Int).Set(amount),
		ExpiresAt:   expires,
	}); err != nil {
		return err
	}
	prep := btp.NewPrepare(amount, destination, n.identity.Condition(), expires, data)
	if err := conn.Send(prep); err != nil {
		n.pending.Drop(peerID)
		return err
	}
	n.metrics.packetsSent.Inc()
	if err := n.db.Insert(ev); err != nil {
		zap.L().Debug("outbound event not persisted",
			zap.String("eventId", ev.ID), zap.Error(err))
	}
	return nil
}

// signIfNeeded signs ev with the node identity when it carries no signature.
func (n *Node) signIfNeeded(ev *event.Event) error {
	if ev == nil {
		return fmt.Errorf("node: nil event")
	}
	if ev.Sig != "" {
		return nil
	}
	return n.identity.Sign(ev)
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
