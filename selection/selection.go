// Package selection picks the final shortlist from scored records.
package selection

import (
	"sort"

	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/scoring"
)

const (
	DefaultTopK  = 50
	DefaultLimit = 5
)

// Classifier supplies the per-record facts and rationale tiers depend on.
// *scoring.Scorer satisfies it.
type Classifier interface {
	Signals(m model.Message) scoring.Signals
	Explain(sc model.Scored) model.Rationale
}

// Policy bounds the candidate set and the shortlist.
type Policy struct {
	TopK  int
	Limit int
}

func DefaultPolicy() Policy {
	return Policy{TopK: DefaultTopK, Limit: DefaultLimit}
}

type tier struct {
	id    model.Tier
	match func(scoring.Signals) bool
}

// tiers run strictly in this order.
var tiers = []tier{
	{
		id: model.TierInternalEntityFinancial,
		match: func(s scoring.Signals) bool {
			return s.Internal && s.HasEntity && s.HasFinancial
		},
	},
	{
		id: model.TierExecutive,
		match: func(s scoring.Signals) bool {
			return (s.ExecutivePair && s.HasSmokingGun) ||
				(s.SenderFlagged && s.RecipientFlagged && s.HasEntity)
		},
	},
	{
		id: model.TierInternalSender,
		match: func(s scoring.Signals) bool {
			return s.SenderInternal
		},
	},
	{
		id: model.TierRemaining,
		match: func(scoring.Signals) bool {
			return true
		},
	},
}

// Rank returns a copy of scored sorted by FraudScore descending, ties kept
// in sequence order, truncated to k entries (k <= 0 keeps all).
func Rank(scored []model.Scored, k int) []model.Scored {
	ranked := make([]model.Scored, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FraudScore != ranked[j].FraudScore {
			return ranked[i].FraudScore > ranked[j].FraudScore
		}
		return ranked[i].Seq < ranked[j].Seq
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Select ranks scored, keeps the top p.TopK and fills up to p.Limit slots
// tier by tier. A record is claimed at most once and newsletters are never
// selected.
func Select(c Classifier, scored []model.Scored, p Policy) []model.Selection {
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}

	candidates := Rank(scored, p.TopK)
	signals := make([]scoring.Signals, len(candidates))
	for i := range candidates {
		signals[i] = c.Signals(candidates[i].Message)
	}

	claimed := make([]bool, len(candidates))
	out := make([]model.Selection, 0, p.Limit)

	for _, t := range tiers {
		if len(out) >= p.Limit {
			break
		}
		for i := range candidates {
			if len(out) >= p.Limit {
				break
			}
			if claimed[i] || signals[i].Newsletter || !t.match(signals[i]) {
				continue
			}
			claimed[i] = true
			out = append(out, model.Selection{
				Scored:    candidates[i],
				Tier:      t.id,
				Rationale: c.Explain(candidates[i]),
			})
		}
	}

	return out
}
