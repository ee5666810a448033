package scoring

import (
	"strings"

	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/rules"
)

// ExecComm scores who talks to whom among flagged individuals. Each table is
// walked in declared order and only the first match counts.
func (s *Scorer) ExecComm(m model.Message) float64 {
	return s.execComm(newView(m))
}

func (s *Scorer) execComm(v view) float64 {
	if v.from == "" {
		return 0
	}

	r := s.rules
	p := r.Points
	var score float64

	if ind, ok := s.flagged(v.from); ok {
		score += ind.Weight
	}
	if ind, ok := s.flagged(v.to); ok {
		score += ind.Weight - 1
	}
	if _, ok := s.flagged(v.cc); ok {
		score += p.CCFlagged
	}
	if _, ok := s.executivePair(v.from, v.to); ok {
		score += p.ExecutivePair
	}
	if score > 0 && v.hasBody && containsAny(v.body, r.SuspiciousPhrases) {
		score += p.SuspiciousPhrase
	}

	if score < 0 {
		return 0
	}
	return score
}

// flagged returns the first declared individual with an alias in text.
func (s *Scorer) flagged(text string) (rules.Individual, bool) {
	if text == "" {
		return rules.Individual{}, false
	}
	for _, ind := range s.rules.FlaggedIndividuals {
		if matchesIndividual(text, ind) {
			return ind, true
		}
	}
	return rules.Individual{}, false
}

// flaggedAll returns every declared individual with an alias in text.
func (s *Scorer) flaggedAll(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, ind := range s.rules.FlaggedIndividuals {
		if matchesIndividual(text, ind) {
			out = append(out, ind.Name)
		}
	}
	return out
}

func (s *Scorer) executivePair(from, to string) (rules.Pair, bool) {
	if from == "" || to == "" {
		return rules.Pair{}, false
	}
	for _, pair := range s.rules.ExecutivePairs {
		a, _ := s.rules.Individual(pair[0])
		b, _ := s.rules.Individual(pair[1])
		if (matchesIndividual(from, a) && matchesIndividual(to, b)) ||
			(matchesIndividual(from, b) && matchesIndividual(to, a)) {
			return pair, true
		}
	}
	return rules.Pair{}, false
}

func matchesIndividual(text string, ind rules.Individual) bool {
	for _, alias := range ind.Aliases {
		if strings.Contains(text, alias) {
			return true
		}
	}
	return false
}
