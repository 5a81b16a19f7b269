package node

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/event"
)

// preimageDomain separates the fulfillment preimage derivation from any other
// hash of the signing key.
const preimageDomain = "agentmesh/fulfillment/v1"

// Identity bundles what the node is on the wire: its id, routing address,
// event-signing keypair, and the fixed fulfillment preimage whose hash is the
// execution condition peers place on prepares toward this agent.
type Identity struct {
	AgentID string
	Address string
	PubKey  string

	priv     *btcec.PrivateKey
	preimage [btp.ConditionSize]byte
}

// NewIdentity derives an identity from the hex-encoded event signing key.
// The fulfillment preimage is deterministic in the key, so restarts keep the
// same execution condition.
func NewIdentity(agentID, address, privHex string) (*Identity, error) {
	priv, err := event.ParsePrivateKey(privHex)
	if err != nil {
		return nil, err
	}
	id := &Identity{
		AgentID: agentID,
		Address: address,
		PubKey:  event.PublicKeyHex(priv),
		priv:    priv,
	}
	id.preimage = sha256.Sum256(append([]byte(preimageDomain), priv.Serialize()...))
	return id, nil
}

// PrivateKey returns the event-signing key.
func (id *Identity) PrivateKey() *btcec.PrivateKey { return id.priv }

// Fulfillment returns the fixed 32-byte preimage attached to fulfill packets.
func (id *Identity) Fulfillment() []byte {
	out := make([]byte, btp.ConditionSize)
	copy(out, id.preimage[:])
	return out
}

// Condition returns sha256(fulfillment), the execution condition this agent
// can always satisfy.
func (id *Identity) Condition() []byte {
	sum := sha256.Sum256(id.preimage[:])
	return sum[:]
}

// Sign signs ev with the identity key.
func (id *Identity) Sign(ev *event.Event) error {
	return ev.Sign(id.priv)
}
