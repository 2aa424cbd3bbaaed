package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// ApprovalCache remembers which tool fingerprints the user has approved
// for the rest of the session. In-memory only; a new session starts
// empty.
type ApprovalCache struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

// NewApprovalCache returns an empty cache.
func NewApprovalCache() *ApprovalCache {
	return &ApprovalCache{entries: make(map[string]struct{})}
}

// Contains reports whether the fingerprint was approved for the session.
func (c *ApprovalCache) Contains(fp string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[fp]
	return ok
}

// Add records a session-wide approval.
func (c *ApprovalCache) Add(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = struct{}{}
}

// RevokeAll clears every remembered approval.
func (c *ApprovalCache) RevokeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]struct{})
}

// Len returns the number of remembered approvals.
func (c *ApprovalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Fingerprint derives the approval cache key for one call. The key is the
// tool name plus the tool's approval key over the parsed arguments: a
// custom ApprovalKey function when declared, the empty string when the
// tool excludes arguments entirely, otherwise deterministic JSON of the
// arguments with any ignored fields removed (JSON object keys marshal
// sorted, so equal argument maps produce equal keys).
func Fingerprint(def ToolDefinition, args map[string]any) string {
	key := ""
	switch {
	case def.ApprovalExcludesArguments:
		// Name-only fingerprint.
	case def.ApprovalKey != nil:
		key = def.ApprovalKey(args)
	default:
		key = canonicalArgs(args, def.ApprovalIgnoredFields)
	}
	sum := sha256.Sum256([]byte(def.Name + "\x00" + key))
	return hex.EncodeToString(sum[:16])
}

func canonicalArgs(args map[string]any, ignored []string) string {
	if len(args) == 0 {
		return "{}"
	}
	if len(ignored) > 0 {
		filtered := make(map[string]any, len(args))
		for k, v := range args {
			filtered[k] = v
		}
		for _, field := range ignored {
			delete(filtered, field)
		}
		args = filtered
	}
	data, err := json.Marshal(args)
	if err != nil {
		// Arguments came out of json.Unmarshal, so this only fires on
		// exotic custom keys; fall back to something still deterministic
		// enough to avoid over-prompting within a session.
		return fmt.Sprintf("%d-unmarshalable", len(args))
	}
	return string(data)
}
