// Package ids computes the identifiers that make re-ingestion idempotent.
//
// ExposureID and DedupeKey are pure functions of stable observation fields:
// the same inputs always produce the same identifier, on any platform, so a
// rescan of the same exposure correlates to the same current-state row.
// EventID is the opposite: unique per observation, time-ordered for debugging.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// hashComponents joins the stable fields with a separator that cannot appear
// in any of them ambiguously, hashes, and truncates to 32 hex chars (16 bytes,
// plenty of collision margin for this cardinality).
func hashComponents(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:32]
}

func portString(port *int) string {
	if port == nil {
		return ""
	}
	return strconv.Itoa(*port)
}

// ExposureID returns the deterministic identity of an exposure. A nil port
// (icmp and friends) hashes as the empty string so determinism is preserved.
func ExposureID(officeID, assetID, dstIP string, dstPort *int, protocol, exposureClass string) string {
	return hashComponents(officeID, assetID, dstIP, portString(dstPort), protocol, exposureClass)
}

// DedupeKey extends ExposureID's inputs with the service product, giving
// scanners that distinguish versions on the same port a finer correlation key.
func DedupeKey(officeID, assetID, dstIP string, dstPort *int, protocol, exposureClass, serviceProduct string) string {
	return hashComponents(officeID, assetID, dstIP, portString(dstPort), protocol, exposureClass, serviceProduct)
}

// EventID returns a fresh UUIDv7: unique per observation and time-ordered so
// event history sorts naturally. Falls back to a random UUID if the v7
// source errors (it only can on entropy exhaustion).
func EventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
