// Package chain provides the evidence hashing primitives and the mock
// ledger helpers. Everything here is pure: bytes in, strings out. The
// "blockchain" side is simulation only; the hashes are real SHA-256.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/saferoam/incident-server/internal/models"
)

// DefaultExplorerBase is the mock explorer used when none is configured.
const DefaultExplorerBase = "https://polygonscan.com/tx/"

// HashFile returns the hex SHA-256 digest of the file bytes.
// Identical bytes always yield the identical digest.
func HashFile(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashEvidenceBundle digests a canonical serialization of the incident's
// identity-relevant fields. The field order is fixed here, never taken from
// a map iteration, so re-hashing unchanged content reproduces the stored
// value exactly.
//
// Serialized fields, in order: id, type, severity, notes, lat, lng, then
// each file's name and hash in list order.
func HashEvidenceBundle(inc *models.Incident) string {
	var b strings.Builder
	b.WriteString("id=")
	b.WriteString(inc.ID)
	b.WriteString("|type=")
	b.WriteString(string(inc.Type))
	b.WriteString("|severity=")
	b.WriteString(strconv.Itoa(inc.Severity))
	b.WriteString("|notes=")
	b.WriteString(inc.Notes)
	b.WriteString("|lat=")
	b.WriteString(strconv.FormatFloat(inc.Location.Lat, 'f', -1, 64))
	b.WriteString("|lng=")
	b.WriteString(strconv.FormatFloat(inc.Location.Lng, 'f', -1, 64))
	for _, f := range inc.Files {
		b.WriteString("|file=")
		b.WriteString(f.Name)
		b.WriteString(":")
		b.WriteString(f.Hash)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// MockTxID fabricates a ledger transaction reference: "0x" followed by
// 64 random hex characters. It only simulates an external ledger and is
// not cryptographically meaningful. A nil rng falls back to the global source.
func MockTxID(rng *rand.Rand) string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	b.Grow(66)
	b.WriteString("0x")
	for i := 0; i < 64; i++ {
		if rng != nil {
			b.WriteByte(hexDigits[rng.Intn(16)])
		} else {
			b.WriteByte(hexDigits[rand.Intn(16)])
		}
	}
	return b.String()
}

// ExplorerURL builds the mock block-explorer link for a transaction id.
func ExplorerURL(base, txID string) string {
	if base == "" {
		base = DefaultExplorerBase
	}
	return fmt.Sprintf("%s%s", base, txID)
}
