package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MatchedPair links two semantically-equivalent markets on different venues
// and tracks the implied-probability spread between them. Pairs are
// deactivated when a refresh no longer finds them, never deleted, so trades
// referencing them stay linked.
type MatchedPair struct {
	ID            string
	PairKey       string // deterministic upsert key, stable across refreshes
	Market1Venue  VenueName
	Market1ID     string
	Market2Venue  VenueName
	Market2ID     string
	Question      string  // representative question text from venue 1
	Similarity    float64 // match score at creation, 0..1
	Market1Ticks  int64   // YES price at last refresh
	Market2Ticks  int64
	SpreadPercent float64 // recomputed every refresh, 0-100 scale
	Liquidity     int64   // lesser of the two sides, minor units
	Active        bool
	Deadline      time.Time // earlier of the two market end dates
	LastCheckedAt time.Time
	CreatedAt     time.Time
}

// PairKeyFor derives the deterministic key a market pair upserts under. The
// same two venue market ids always yield the same key, so a re-discovered
// pair updates its existing row and keeps its id.
func PairKeyFor(v1 VenueName, m1 string, v2 VenueName, m2 string) string {
	h := sha256.Sum256([]byte(string(v1) + ":" + m1 + "|" + string(v2) + ":" + m2))
	return hex.EncodeToString(h[:])
}
