package model

// Tier identifies the shortlist stage that picked a record.
type Tier int

const (
	TierInternalEntityFinancial Tier = iota + 1
	TierExecutive
	TierInternalSender
	TierRemaining
)

func (t Tier) String() string {
	switch t {
	case TierInternalEntityFinancial:
		return "internal-entity-financial"
	case TierExecutive:
		return "executive"
	case TierInternalSender:
		return "internal-sender"
	case TierRemaining:
		return "remaining"
	default:
		return "unknown"
	}
}

// Rationale lists the table entries that matched a record.
type Rationale struct {
	EntityTerms        []string `json:"entity_terms,omitempty"`
	FinancialTerms     []string `json:"financial_terms,omitempty"`
	SmokingGunPhrases  []string `json:"smoking_gun_phrases,omitempty"`
	SuspiciousPhrases  []string `json:"suspicious_phrases,omitempty"`
	FlaggedIndividuals []string `json:"flagged_individuals,omitempty"`
	ExecutivePair      string   `json:"executive_pair,omitempty"`
	Internal           bool     `json:"internal"`
	CriticalPeriod     bool     `json:"critical_period"`
}

// Selection is one shortlist entry.
type Selection struct {
	Scored    Scored
	Tier      Tier
	Rationale Rationale
}
