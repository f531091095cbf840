package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"botguard/internal/domain"
)

// ComputeActionID computes a deterministic, human-pasteable action id.
// Formula: base58(first 8 bytes of SHA256(bot|kind|parameter|submitted_unix_ms)).
// Short enough to type into an "approve <id>" command.
func ComputeActionID(bot string, kind domain.ActionKind, param domain.Parameter, submittedUnixMs int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d", bot, kind, param, submittedUnixMs)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:8])
}
