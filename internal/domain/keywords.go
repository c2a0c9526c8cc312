package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// KeywordSet holds arbitrary JSON program keywords. Immutable once inserted;
// HashIndex is its dedup key (invariant 4 of spec.md §3).
type KeywordSet struct {
	ID        int64
	HashIndex string
	Values    map[string]interface{}
	Comments  string
	CreatedOn time.Time
}

// Hash computes HashIndex from normalized (key-sorted) JSON content so that
// two clients producing logically identical keywords converge on one id.
func (k KeywordSet) Hash() string {
	normalized := normalizeJSON(k.Values)
	data, _ := json.Marshal(normalized)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalizeJSON produces a deterministically-ordered representation of an
// arbitrary JSON-like value by converting maps into sorted key/value slices.
func normalizeJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]interface{}, 0, len(keys))
		for _, k := range keys {
			out = append(out, [2]interface{}{k, normalizeJSON(val[k])})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return val
	}
}
