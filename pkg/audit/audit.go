// Package audit implements the Audit Trail: an append-only,
// hash-chained log of every scheduler decision, review outcome, and
// evaluator verdict. Canonical JSON fixes key order for hashing so that the
// bytes hashed at write time are byte-identical to the bytes reconstructed
// at verification time. Entries carry event_data as json.RawMessage end to
// end, never re-marshaled through an intermediate Go struct (a round trip
// through optional-field structs can drop keys on one side and break the
// chain).
package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// nowFunc is overridden in tests to produce deterministic timestamps.
var nowFunc = time.Now

// genesisHash is the previous_hash of the first entry in a chain: 64 hex
// zeros, the same width as a sha256 digest.
var genesisHash = fmt.Sprintf("%064d", 0)

// Entry is one append-only audit record.
type Entry struct {
	EntryID        string
	Event          string
	TaskID         string
	Timestamp      time.Time
	EventData      json.RawMessage
	Reasoning      string
	PreviousHash   string
	Signature      string
	EntryHash      string
	InsertionOrder int64
}

// canonicalForm is the exact struct marshaled for hashing: field order is
// fixed by declaration order, and event_data is carried as raw bytes so the
// hash never depends on map key iteration order or Go's zero-value
// omission. Signature and EntryHash are deliberately absent.
type canonicalForm struct {
	EntryID      string          `json:"entry_id"`
	Event        string          `json:"event"`
	TaskID       string          `json:"task_id"`
	Timestamp    string          `json:"timestamp"`
	EventData    json.RawMessage `json:"event_data"`
	Reasoning    string          `json:"reasoning"`
	PreviousHash string          `json:"previous_hash"`
}

func computeHash(e *Entry) (string, error) {
	data := e.EventData
	if data == nil {
		data = json.RawMessage("{}")
	}
	form := canonicalForm{
		EntryID:      e.EntryID,
		Event:        e.Event,
		TaskID:       e.TaskID,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		EventData:    data,
		Reasoning:    e.Reasoning,
		PreviousHash: e.PreviousHash,
	}
	b, err := json.Marshal(form)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize entry: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Signer optionally signs each entry_hash with an ed25519 key. A nil
// *Signer leaves every Signature empty, and an empty signature verifies
// as valid.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner builds a Signer from a hex-encoded ed25519 seed (32 bytes).
func NewSigner(hexSeed string) (*Signer, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("audit: decode signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("audit: signing key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKeyHex returns the verifying key, for distribution to auditors.
func (s *Signer) PublicKeyHex() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s.pub)
}

func (s *Signer) sign(entryHash string) (string, error) {
	if s == nil {
		return "", nil
	}
	sig := ed25519.Sign(s.priv, []byte(entryHash))
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *Signer) verify(entryHash, signatureB64 string) bool {
	if s == nil {
		return signatureB64 == ""
	}
	if signatureB64 == "" {
		return true
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.pub, []byte(entryHash), sig)
}

func newEntryID() string {
	return uuid.NewString()
}
