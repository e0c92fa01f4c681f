package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFact = "chainer/fact/v1"
	DomainOp   = "chainer/op/v1"
	DomainHash = "chainer/join/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// fold reduces a digest to a 64-bit bucket key.
func fold(sum []byte) uint64 {
	return binary.BigEndian.Uint64(sum[:8])
}

// FactHash computes the identity hash of a fact: the template name combined
// with the anonymous canonical encoding of every slot. Unknown placeholders
// hash identically regardless of ID, matching Identical.
func FactHash(template string, slots []Value) uint64 {
	var buf bytes.Buffer
	writeCanonicalString(&buf, template) //nolint:errcheck // encoding a string cannot fail
	buf.WriteByte(0x00)
	for _, v := range slots {
		if err := writeCanonical(&buf, v, true); err != nil {
			// Slots are always built from valid Values; an encoding failure
			// means a nil slot, which hashes as an empty field.
			buf.WriteString("null")
		}
		buf.WriteByte(',')
	}
	return fold(hashWithDomain(DomainFact, buf.Bytes()))
}

// ValuesHash computes a bucket key over an ordered list of values.
// Used for join-memory hashing; equal value lists always hash equally.
func ValuesHash(vals []Value) uint64 {
	if len(vals) == 0 {
		return 0
	}
	var buf bytes.Buffer
	for _, v := range vals {
		if v == nil {
			buf.WriteString("null")
		} else if err := writeCanonical(&buf, v, false); err != nil {
			buf.WriteString("null")
		}
		buf.WriteByte(',')
	}
	return fold(hashWithDomain(DomainHash, buf.Bytes()))
}

// IdentityHash computes a bucket key over a list of fact indices.
// Used by joins entered from the right, whose memories match on the
// identity of a shared partial-match prefix.
func IdentityHash(indices []int64) uint64 {
	if len(indices) == 0 {
		return 0
	}
	buf := make([]byte, 8*len(indices))
	for i, idx := range indices {
		binary.BigEndian.PutUint64(buf[i*8:], uint64(idx))
	}
	return fold(hashWithDomain(DomainHash, buf))
}

// OpID computes the content-addressed ID of a journal operation.
// The ID is stable across replays given the same inputs.
func OpID(session string, seq int64, kind string, payload []byte) (string, error) {
	if session == "" {
		return "", fmt.Errorf("OpID: session is required")
	}
	var buf bytes.Buffer
	if err := writeCanonicalString(&buf, session); err != nil {
		return "", fmt.Errorf("OpID: %w", err)
	}
	fmt.Fprintf(&buf, ",%d,", seq)
	if err := writeCanonicalString(&buf, kind); err != nil {
		return "", fmt.Errorf("OpID: %w", err)
	}
	buf.WriteByte(',')
	buf.Write(payload)
	return hex.EncodeToString(hashWithDomain(DomainOp, buf.Bytes())), nil
}
