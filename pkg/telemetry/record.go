package telemetry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type names a telemetry record family. The values are part of the wire
// contract with the observer UI.
type Type string

const (
	TypePacketReceived  Type = "PACKET_RECEIVED"
	TypePacketForwarded Type = "PACKET_FORWARDED"
	TypeAccountBalance  Type = "ACCOUNT_BALANCE"

	TypeSettlementTriggered Type = "SETTLEMENT_TRIGGERED"
	TypeSettlementCompleted Type = "SETTLEMENT_COMPLETED"

	TypeAgentChannelOpened        Type = "AGENT_CHANNEL_OPENED"
	TypeAgentChannelBalanceUpdate Type = "AGENT_CHANNEL_BALANCE_UPDATE"
	TypeAgentChannelPaymentSent   Type = "AGENT_CHANNEL_PAYMENT_SENT"
	TypeAgentChannelClosed        Type = "AGENT_CHANNEL_CLOSED"

	TypePaymentChannelOpened        Type = "PAYMENT_CHANNEL_OPENED"
	TypePaymentChannelBalanceUpdate Type = "PAYMENT_CHANNEL_BALANCE_UPDATE"
	TypePaymentChannelSettled       Type = "PAYMENT_CHANNEL_SETTLED"

	TypeXRPChannelOpened  Type = "XRP_CHANNEL_OPENED"
	TypeXRPChannelClaimed Type = "XRP_CHANNEL_CLAIMED"
	TypeXRPChannelClosed  Type = "XRP_CHANNEL_CLOSED"

	TypeAITokenUsage      Type = "AI_TOKEN_USAGE"
	TypeAIBudgetWarning   Type = "AI_BUDGET_WARNING"
	TypeAIBudgetExhausted Type = "AI_BUDGET_EXHAUSTED"

	TypeWalletBalanceMismatch Type = "WALLET_BALANCE_MISMATCH"
	TypeRateLimitExceeded     Type = "RATE_LIMIT_EXCEEDED"
)

// Terminal reports whether the type marks the end of a channel's life.
// Terminal records are never dropped under buffer pressure.
func (t Type) Terminal() bool {
	switch t {
	case TypeAgentChannelClosed,
		TypePaymentChannelSettled,
		TypeSettlementCompleted,
		TypeXRPChannelClaimed,
		TypeXRPChannelClosed:
		return true
	}
	return false
}

// Record is one telemetry event.
type Record struct {
	ID        string
	Type      Type
	Timestamp int64 // milliseconds
	NodeID    string
	Fields    map[string]interface{}
}

// newRecord stamps a record with identity and the current time.
func newRecord(nodeID string, t Type, fields map[string]interface{}) Record {
	return Record{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		NodeID:    nodeID,
		Fields:    fields,
	}
}

// MarshalJSON flattens type-specific fields into the top-level object, the
// shape the observer UI consumes. Core keys win over field keys of the same
// name.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(r.Fields)+4)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["id"] = r.ID
	flat["type"] = string(r.Type)
	flat["timestamp"] = r.Timestamp
	flat["nodeId"] = r.NodeID
	return json.Marshal(flat)
}

// stringField returns the named field when it is a string.
func (r Record) stringField(key string) string {
	if v, ok := r.Fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
