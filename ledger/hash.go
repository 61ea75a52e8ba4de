/*
hash.go - Canonical serialization and SHA-256 chaining

PURPOSE:
  Tamper-evidence. Every event's CurrentHash covers a canonical, stable
  serialization of its immutable fields plus the previous event's hash.
  Altering any historical field changes that event's hash, which breaks the
  PreviousHash linkage of every later event - detectable by VerifyChain.

CANONICAL FORM:
  Fields appear in a fixed order, each length-prefixed ("<len>:<bytes>|")
  so the encoding is injective: no choice of field contents can produce
  the byte stream of a different event, even when values contain the
  delimiter characters themselves. Timestamps are UTC RFC3339Nano.
  Quantities use decimal string form (no float round-trips). Metadata is
  preceded by its pair count and sorted by key so map iteration order
  cannot change the digest.

WHY SHA-256:
  The chain must hold against a motivated adversary, not just accidental
  corruption. A non-cryptographic hash would make forging a consistent
  replacement history feasible.

SEE ALSO:
  - eventstore.go: Computes hashes at append time, verifies on demand
  - slice.go: Slice hash over ordered member event hashes
*/
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// GenesisHash anchors the chain: the very first event's PreviousHash.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// canonicalString serializes the immutable fields of an event in a fixed
// order. CurrentHash is excluded (it is the digest of this string);
// everything else, including PreviousHash, is covered.
//
// Every field is length-prefixed. A plain-delimiter join would let two
// distinct events collide by moving the delimiter across a field
// boundary (Reference "x" + BatchID "y|z" vs. "x|y" + "z"); the length
// prefix removes that degree of freedom.
func canonicalString(e LedgerEvent) string {
	var b strings.Builder
	writeField(&b, string(e.ID))
	writeField(&b, strconv.FormatInt(e.Sequence, 10))
	writeField(&b, e.Timestamp.UTC().Format(time.RFC3339Nano))
	writeField(&b, string(e.Kind))
	writeField(&b, string(e.PoolID))
	writeField(&b, e.Quantity.Value.String())
	writeField(&b, string(e.Quantity.Unit))
	writeField(&b, e.Reference)
	writeField(&b, string(e.BatchID))
	writeField(&b, e.Provenance.SourceSystem)
	writeField(&b, e.Provenance.Actor)
	writeField(&b, string(e.Provenance.Status))

	// Pair count, then sorted keys: neither map iteration order nor
	// splitting one value into two pairs can reproduce the digest.
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeField(&b, strconv.Itoa(len(keys)))
	for _, k := range keys {
		writeField(&b, k)
		writeField(&b, e.Metadata[k])
	}

	writeField(&b, e.PreviousHash)
	return b.String()
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte('|')
}

// EventHash computes the SHA-256 content hash of an event.
func EventHash(e LedgerEvent) string {
	sum := sha256.Sum256([]byte(canonicalString(e)))
	return hex.EncodeToString(sum[:])
}

// ChainHash digests an ordered list of member hashes. Used for slice hashes.
func ChainHash(hashes []string) string {
	h := sha256.New()
	for _, s := range hashes {
		h.Write([]byte(s))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
