package scoring

import (
	"strings"

	"github.com/dhcgn/mail-fraud-triage/model"
)

// FraudContext scores keyword and phrase evidence in a message. Newsletters
// and messages without a body score zero.
func (s *Scorer) FraudContext(m model.Message) float64 {
	return s.fraudContext(newView(m))
}

func (s *Scorer) fraudContext(v view) float64 {
	if s.newsletter(v.subject, v.from) {
		return 0
	}
	if !v.hasBody {
		return 0
	}

	r := s.rules
	p := r.Points
	internal := s.internal(v.from, v.to)

	var score float64
	if internal {
		score += p.Internal
	}

	for _, t := range r.WeightedTerms {
		if !strings.Contains(v.body, t.Term) {
			continue
		}
		score += t.Weight
		if internal && t.Weight >= p.HighWeightThreshold {
			score += p.InternalHighWeight
		}
	}

	for _, phrase := range r.SmokingGunPhrases {
		if !strings.Contains(v.body, phrase) {
			continue
		}
		score += p.SmokingGun
		if internal {
			score += p.SmokingGunInternal
		}
	}

	if v.subject != "" {
		for _, t := range r.WeightedTerms {
			if strings.Contains(v.subject, t.Term) {
				score += t.Weight * p.SubjectMultiplier
			}
		}
	}

	if containsAny(v.body, r.EntityTerms) && containsAny(v.body, r.FinancialTerms) {
		score += p.EntityFinancialCombination
	}

	return score
}
