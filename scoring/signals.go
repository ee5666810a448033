package scoring

import (
	"strings"

	"github.com/dhcgn/mail-fraud-triage/model"
)

// Signals are the boolean facts the shortlist tiers are decided on.
type Signals struct {
	Internal         bool
	SenderInternal   bool
	Newsletter       bool
	HasEntity        bool
	HasFinancial     bool
	HasSmokingGun    bool
	ExecutivePair    bool
	SenderFlagged    bool
	RecipientFlagged bool
}

// Signals classifies a message for shortlist selection.
func (s *Scorer) Signals(m model.Message) Signals {
	v := newView(m)
	r := s.rules

	_, senderFlagged := s.flagged(v.from)
	_, recipientFlagged := s.flagged(v.to)
	_, pair := s.executivePair(v.from, v.to)

	sig := Signals{
		Internal:         s.internal(v.from, v.to),
		SenderInternal:   strings.Contains(v.from, r.OrganizationDomain),
		Newsletter:       s.newsletter(v.subject, v.from),
		ExecutivePair:    pair,
		SenderFlagged:    senderFlagged,
		RecipientFlagged: recipientFlagged,
	}
	if v.hasBody {
		sig.HasEntity = containsAny(v.body, r.EntityTerms)
		sig.HasFinancial = containsAny(v.body, r.FinancialTerms)
		sig.HasSmokingGun = containsAny(v.body, r.SmokingGunPhrases)
	}
	return sig
}

// Explain lists the table entries that matched a scored record.
func (s *Scorer) Explain(sc model.Scored) model.Rationale {
	v := newView(sc.Message)
	r := s.rules

	rat := model.Rationale{
		Internal:       s.internal(v.from, v.to),
		CriticalPeriod: sc.CriticalPeriod,
	}
	if v.hasBody {
		rat.EntityTerms = allMatches(v.body, r.EntityTerms)
		rat.FinancialTerms = allMatches(v.body, r.FinancialTerms)
		rat.SmokingGunPhrases = allMatches(v.body, r.SmokingGunPhrases)
		rat.SuspiciousPhrases = allMatches(v.body, r.SuspiciousPhrases)
	}

	seen := make(map[string]bool)
	for _, text := range []string{v.from, v.to, v.cc} {
		for _, name := range s.flaggedAll(text) {
			if !seen[name] {
				seen[name] = true
				rat.FlaggedIndividuals = append(rat.FlaggedIndividuals, name)
			}
		}
	}

	if pair, ok := s.executivePair(v.from, v.to); ok {
		rat.ExecutivePair = pair[0] + "-" + pair[1]
	}

	return rat
}
