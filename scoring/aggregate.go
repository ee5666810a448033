package scoring

import "github.com/dhcgn/mail-fraud-triage/model"

// Boost applies the critical-period, thread and attachment factors to base,
// in that order, each on the running value.
func (s *Scorer) Boost(base float64, m model.Message) (score float64, criticalPeriod bool) {
	return s.boost(base, newView(m))
}

func (s *Scorer) boost(base float64, v view) (float64, bool) {
	r := s.rules
	score := base

	critical := containsAny(v.date, r.CriticalPeriods)
	if critical {
		score *= r.Boosts.CriticalPeriod
	}
	if containsAny(v.subject, r.ThreadMarkers) {
		score *= r.Boosts.Thread
	}
	if containsAny(v.filename, r.AttachmentExtensions) {
		score *= r.Boosts.Attachment
	}

	return score, critical
}
