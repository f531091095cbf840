package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"botguard/internal/domain"
)

// ComputeViolationID computes a deterministic violation window id using SHA256.
// Formula: SHA256(bot|parameter|occurrence|first_seen_unix_ms)
// Returns hex-encoded hash (64 characters).
func ComputeViolationID(bot string, param domain.Parameter, occurrence int, firstSeenUnixMs int64) string {
	data := fmt.Sprintf("%s|%s|%d|%d", bot, param, occurrence, firstSeenUnixMs)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
