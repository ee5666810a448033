// Package scoring computes heuristic fraud scores for parsed messages.
//
// All functions are pure: they read only the message and the immutable rule
// tables, so records may be scored concurrently.
package scoring

import (
	"strings"

	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/rules"
)

// Scorer evaluates messages against one set of rule tables.
type Scorer struct {
	rules *rules.Rules
}

// New returns a scorer for r, or for the built-in tables when r is nil.
func New(r *rules.Rules) *Scorer {
	if r == nil {
		r = rules.Default()
	}
	return &Scorer{rules: r}
}

// view holds the lower-cased fields the scorers look at.
type view struct {
	from, to, cc, subject, body, date, filename string
	hasBody                                     bool
}

func newView(m model.Message) view {
	return view{
		from:     strings.ToLower(m.From),
		to:       strings.ToLower(m.To),
		cc:       strings.ToLower(m.XCc),
		subject:  strings.ToLower(m.Subject),
		body:     strings.ToLower(m.Body),
		date:     strings.ToLower(m.Date),
		filename: strings.ToLower(m.XFileName),
		hasBody:  m.HasBody,
	}
}

// Score computes both component scores and the boosted aggregate.
func (s *Scorer) Score(seq int, m model.Message) model.Scored {
	v := newView(m)
	ctx := s.fraudContext(v)
	exec := s.execComm(v)
	total, critical := s.boost(ctx+exec, v)
	return model.Scored{
		Seq:               seq,
		Message:           m,
		FraudContextScore: ctx,
		ExecCommScore:     exec,
		CriticalPeriod:    critical,
		FraudScore:        total,
	}
}


// IsNewsletter reports whether the message looks like a bulletin or an
// external syndicated report.
func (s *Scorer) IsNewsletter(subject, from string) bool {
	return s.newsletter(strings.ToLower(subject), strings.ToLower(from))
}

func (s *Scorer) internal(from, to string) bool {
	d := s.rules.OrganizationDomain
	return strings.Contains(from, d) && strings.Contains(to, d)
}

func (s *Scorer) newsletter(subject, from string) bool {
	if containsAny(subject, s.rules.NewsletterSubjects) {
		return true
	}
	external := !strings.Contains(from, s.rules.OrganizationDomain)
	return external && containsAny(from, s.rules.SyndicationSenders)
}

func containsAny(text string, terms []string) bool {
	_, ok := firstMatch(text, terms)
	return ok
}

func firstMatch(text string, terms []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, t := range terms {
		if strings.Contains(text, t) {
			return t, true
		}
	}
	return "", false
}

func allMatches(text string, terms []string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, t := range terms {
		if strings.Contains(text, t) {
			out = append(out, t)
		}
	}
	return out
}
