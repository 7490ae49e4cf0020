package models

// FactorScores breaks a duplicate-confidence score down by factor so
// callers can see why two events were (or were not) matched.
type FactorScores struct {
	Title       float64 `json:"title"`
	Time        float64 `json:"time"`
	Location    float64 `json:"location"`
	Description float64 `json:"description"`
	SameSource  bool    `json:"sameSource"`
	TypeMatch   bool    `json:"typeMatch"`
}

// DuplicationResult is the per-event verdict produced by one
// deduplication run. Ephemeral: produced and consumed within a cycle.
type DuplicationResult struct {
	IsDuplicate bool    `json:"isDuplicate"`
	Confidence  float64 `json:"confidence"` // [0,1]
	// CanonicalID identifies the surviving event this one was folded
	// into. Empty when not a duplicate.
	CanonicalID string       `json:"canonicalId,omitempty"`
	Factors     FactorScores `json:"factors"`
}
