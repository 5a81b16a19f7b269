package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Tag is an ordered list of strings; the first element is the tag name.
type Tag []string

// Name returns the tag name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the element following the name, or "" when absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Event is the unit wrapped inside a packet payload. It is immutable after
// signing; mutating a signed event invalidates both ID and Sig.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// New returns an unsigned event with CreatedAt set to the current time.
func New(kind int, content string, tags []Tag) *Event {
	if tags == nil {
		tags = []Tag{}
	}
	return &Event{
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

// Serialize renders the canonical form hashed into the event id:
// a JSON array [0, pubkey, created_at, kind, tags, content] with HTML
// escaping disabled.
func (e *Event) Serialize() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}
	// Encoding []interface{} of scalars and [][]string cannot fail.
	_ = enc.Encode([]interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// ComputeID returns the hex SHA-256 digest of the canonical serialization.
func (e *Event) ComputeID() string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}

// Sign fills in PubKey, ID and Sig from the given private key. CreatedAt must
// already be set; the tags and content are hashed as-is.
func (e *Event) Sign(priv *btcec.PrivateKey) error {
	if priv == nil {
		return fmt.Errorf("event: nil private key")
	}
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	e.ID = e.ComputeID()

	digest, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("event: decode id: %w", err)
	}
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return fmt.Errorf("event: sign: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks that the id matches the canonical hash and that the signature
// is valid for the author key. It returns false with a nil error for a
// well-formed event that simply fails verification, and an error only for
// events too malformed to check.
func (e *Event) Verify() (bool, error) {
	if e.ID != e.ComputeID() {
		return false, nil
	}
	pkBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pkBytes) != 32 {
		return false, fmt.Errorf("event: invalid pubkey")
	}
	pub, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false, fmt.Errorf("event: parse pubkey: %w", err)
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != 64 {
		return false, fmt.Errorf("event: invalid signature encoding")
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("event: parse signature: %w", err)
	}
	digest, err := hex.DecodeString(e.ID)
	if err != nil {
		return false, fmt.Errorf("event: decode id: %w", err)
	}
	return sig.Verify(digest, pub), nil
}

// FirstTag returns the first tag with the given name.
func (e *Event) FirstTag(name string) (Tag, bool) {
	for _, t := range e.Tags {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// TagValue returns the value of the first tag with the given name, or "".
func (e *Event) TagValue(name string) string {
	t, ok := e.FirstTag(name)
	if !ok {
		return ""
	}
	return t.Value()
}

// TagsByName returns every tag with the given name, in order.
func (e *Event) TagsByName(name string) []Tag {
	var out []Tag
	for _, t := range e.Tags {
		if t.Name() == name {
			out = append(out, t)
		}
	}
	return out
}

// AppendTag adds a tag to an unsigned event.
func (e *Event) AppendTag(fields ...string) {
	e.Tags = append(e.Tags, Tag(fields))
}
