package node

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/skills"
	"github.com/agentmesh/agentmesh-go/pkg/telemetry"
)

// HandlePacket is the btp.Handler bound to every peer link. Prepares run
// through the full inbound ladder; fulfills and rejects resolve the pending
// prepare toward that peer.
func (n *Node) HandlePacket(peerID string, p *btp.Packet) {
	switch p.Type {
	case btp.PacketFulfill, btp.PacketReject:
		n.resolveResponse(peerID, p)
	default:
		resp := n.ProcessIncomingPacket(peerID, p)
		if conn := n.conn(peerID); conn != nil {
			if err := conn.Send(resp); err != nil {
				zap.L().Warn("response write failed",
					zap.String("peer", peerID), zap.Error(err))
			}
		} else {
			zap.L().Warn("no link for response", zap.String("peer", peerID))
		}
	}
}

// ProcessIncomingPacket runs one inbound packet through the handler ladder
// and returns the response frame: rate limit, expiry, payload decode,
// required payment, dispatch, then fulfill or reject.
func (n *Node) ProcessIncomingPacket(peerID string, p *btp.Packet) btp.Packet {
	if p.Type != btp.PacketPrepare {
		return n.reject(peerID, btp.CodeUnhandled,
			fmt.Sprintf("unexpected packet type %q", p.Type), nil)
	}
	if !n.limiter(peerID).Allow() {
		n.metrics.rateLimited.Inc()
		n.emitter.Emit(telemetry.TypeRateLimitExceeded, map[string]interface{}{
			"peerId": peerID,
		})
		return n.reject(peerID, btp.CodeUnhandled, "rate limit exceeded", nil)
	}
	if p.ExpiresAt == nil || !p.ExpiresAt.After(time.Now()) {
		return n.reject(peerID, btp.CodeExpired, "prepare expired", nil)
	}
	ev, err := event.Decode(p.Data)
	if err != nil {
		return n.reject(peerID, btp.CodeMalformed, err.Error(), nil)
	}
	amount, err := p.ParseAmount()
	if err != nil {
		return n.reject(peerID, btp.CodeMalformed, err.Error(), nil)
	}
	base := map[string]interface{}{
		"eventId": ev.ID,
		"kind":    ev.Kind,
		"amount":  amount.String(),
	}
	for _, s := range n.registry.SkillsForKind(ev.Kind) {
		if s.RequiredPayment != nil && amount.Cmp(s.RequiredPayment) < 0 {
			return n.reject(peerID, btp.CodeInsufficientPayment,
				fmt.Sprintf("skill %s requires payment of %s", s.Name, s.RequiredPayment), base)
		}
	}

	dctx := &skills.Context{
		Ctx:          context.Background(),
		Event:        ev,
		PeerID:       peerID,
		Amount:       amount,
		Destination:  p.Destination,
		ExpiresAt:    *p.ExpiresAt,
		DB:           n.db,
		AgentID:      n.cfg.AgentID,
		AgentPubKey:  n.identity.PubKey,
		AgentAddress: n.cfg.Address,
	}
	result := n.dispatch.HandleEvent(dctx)
	if !result.Success {
		code, message := btp.CodeUnhandled, "handler refused the event"
		if result.Error != nil {
			code, message = result.Error.Code, result.Error.Message
		}
		return n.reject(peerID, code, message, base)
	}

	data, err := n.sealResponses(ev, result)
	if err != nil {
		return n.reject(peerID, btp.CodeUnhandled, err.Error(), base)
	}

	n.metrics.packetsReceived.WithLabelValues("fulfill").Inc()
	fields := map[string]interface{}{
		"peerId":     peerID,
		"packetType": "fulfill",
	}
	for k, v := range base {
		fields[k] = v
	}
	n.emitter.Emit(telemetry.TypePacketReceived, fields)

	if amount.Sign() > 0 {
		bal := n.addInbound(peerID, amount)
		n.emitter.Emit(telemetry.TypeAccountBalance, map[string]interface{}{
			"peerId":  peerID,
			"balance": bal.String(),
		})
		if bal.Cmp(big.NewInt(n.cfg.SettleThreshold)) >= 0 {
			n.triggerSettlement(peerID)
		}
	}
	return btp.NewFulfill(n.identity.Fulfillment(), data)
}

// reject builds a reject frame and records the outcome.
func (n *Node) reject(peerID, code, message string, base map[string]interface{}) btp.Packet {
	n.metrics.packetsReceived.WithLabelValues("reject").Inc()
	n.metrics.rejects.WithLabelValues(code).Inc()
	fields := map[string]interface{}{
		"peerId":     peerID,
		"packetType": "reject",
		"code":       code,
		"message":    message,
	}
	for k, v := range base {
		fields[k] = v
	}
	n.emitter.Emit(telemetry.TypePacketReceived, fields)
	return btp.NewReject(code, message, nil)
}

// sealResponses signs, persists and encodes the response events of a
// successful dispatch. The request event id is echoed in each response so the
// sender can stitch the exchange.
func (n *Node) sealResponses(req *event.Event, result skills.Result) ([]byte, error) {
	events := result.ResponseEvents
	if events == nil && result.ResponseEvent != nil {
		events = []*event.Event{result.ResponseEvent}
	}
	if len(events) == 0 {
		return nil, nil
	}
	for _, ev := range events {
		if ev.Sig == "" {
			if err := n.identity.Sign(ev); err != nil {
				return nil, fmt.Errorf("node: sign response: %w", err)
			}
		}
		if err := n.db.Insert(ev); err != nil {
			zap.L().Warn("response event not persisted",
				zap.String("eventId", ev.ID), zap.Error(err))
		}
	}
	if len(events) == 1 {
		return events[0].Encode()
	}
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("node: encode responses: %w", err)
	}
	return data, nil
}

// resolveResponse finishes one outbound exchange. Completing the pending
// record is the permission to mutate the channel ledger; a duplicate or
// unsolicited response finds no record and changes nothing.
func (n *Node) resolveResponse(peerID string, p *btp.Packet) {
	rec, ok := n.pending.Complete(peerID)
	if !ok {
		zap.L().Debug("response without pending prepare",
			zap.String("peer", peerID), zap.String("type", string(p.Type)))
		return
	}
	if p.Type == btp.PacketReject {
		zap.L().Info("prepare rejected",
			zap.String("peer", peerID),
			zap.String("eventId", rec.EventID),
			zap.String("code", p.Code),
			zap.String("message", p.Message))
		return
	}

	n.applyOutgoing(peerID, rec.Amount)
	for _, ev := range decodeResponses(p.Data) {
		if err := n.db.Insert(ev); err != nil {
			zap.L().Warn("peer response not persisted",
				zap.String("eventId", ev.ID), zap.Error(err))
		}
	}
}

// applyOutgoing moves the fulfilled amount onto at most one channel ledger:
// the settlement chain first, the hosted ledger second.
func (n *Node) applyOutgoing(peerID string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	evm, xrp := n.engines()
	if evm != nil {
		if ch, ok := evm.ApplyOutgoing(peerID, amount); ok {
			n.emitter.Emit(telemetry.TypeAgentChannelPaymentSent, map[string]interface{}{
				"peerId":    peerID,
				"chain":     "evm",
				"channelId": ch.ID,
				"amount":    amount.String(),
			})
			return
		}
	}
	if xrp != nil {
		if ch, ok := xrp.ApplyOutgoing(peerID, amount); ok {
			n.emitter.Emit(telemetry.TypeAgentChannelPaymentSent, map[string]interface{}{
				"peerId":    peerID,
				"chain":     "xrp",
				"channelId": ch.ID,
				"amount":    amount.String(),
			})
		}
	}
}

// decodeResponses parses a fulfill payload: one event, or an array of them.
// Anything unparseable is dropped; payloads are peer input.
func decodeResponses(data []byte) []*event.Event {
	if len(data) == 0 {
		return nil
	}
	if ev, err := event.Decode(data); err == nil {
		return []*event.Event{ev}
	}
	var many []*event.Event
	if err := json.Unmarshal(data, &many); err != nil {
		zap.L().Debug("unparseable fulfill payload", zap.Error(err))
		return nil
	}
	out := many[:0]
	for _, ev := range many {
		if ev != nil && ev.ID != "" {
			out = append(out, ev)
		}
	}
	return out
}

// triggerSettlement emits the settlement trigger for peerID, resets the
// accumulator, and — when a hosted-ledger channel toward the peer exists —
// claims it in the background. The bilateral chain needs the counterparty's
// proof, so its completion stays on the cooperative-settle path.
func (n *Node) triggerSettlement(peerID string) {
	accumulated := n.resetInbound(peerID)
	n.emitter.Emit(telemetry.TypeSettlementTriggered, map[string]interface{}{
		"peerId":      peerID,
		"accumulated": accumulated.String(),
		"threshold":   n.cfg.SettleThreshold,
	})

	_, xrp := n.engines()
	if xrp == nil {
		return
	}
	ch, ok := xrp.ChannelByPeer(peerID)
	if !ok {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeouts.ChainSubmit)
		defer cancel()
		claimed, txHash, err := xrp.Claim(ctx, ch.ID)
		if err != nil {
			zap.L().Warn("settlement claim failed",
				zap.String("peer", peerID),
				zap.String("channelId", ch.ID), zap.Error(err))
			return
		}
		n.metrics.settlements.Inc()
		n.emitter.Emit(telemetry.TypeSettlementCompleted, map[string]interface{}{
			"peerId":    peerID,
			"chain":     "xrp",
			"channelId": ch.ID,
			"claimed":   claimed,
			"txHash":    txHash,
		})
	}()
}
