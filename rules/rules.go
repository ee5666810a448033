// Package rules holds the fixed, ordered triage tables: weighted terms,
// phrase lists, flagged individuals and boost factors.
//
// Tables are loaded once at startup, normalized to lower case and treated as
// read-only afterwards. Declared order is preserved because scorers rely on
// first-match-in-declared-order semantics.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyTerm         = errors.New("rules: empty term")
	ErrNegativeWeight    = errors.New("rules: negative weight")
	ErrUnknownIndividual = errors.New("rules: unknown flagged individual")
	ErrMissingDomain     = errors.New("rules: organization domain is empty")
)

//go:embed default.yaml
var defaultYAML []byte

// Term is one weighted-term table entry.
type Term struct {
	Term   string  `yaml:"term"`
	Weight float64 `yaml:"weight"`
}

// Individual is a flagged person. Aliases are the substrings searched for
// in address fields.
type Individual struct {
	Name    string   `yaml:"name"`
	Weight  float64  `yaml:"weight"`
	Aliases []string `yaml:"aliases"`
}

// Pair names two flagged individuals by Name. Matching is symmetric.
type Pair [2]string

type Points struct {
	Internal                   float64 `yaml:"internal"`
	InternalHighWeight         float64 `yaml:"internal_high_weight"`
	HighWeightThreshold        float64 `yaml:"high_weight_threshold"`
	SmokingGun                 float64 `yaml:"smoking_gun"`
	SmokingGunInternal         float64 `yaml:"smoking_gun_internal"`
	SubjectMultiplier          float64 `yaml:"subject_multiplier"`
	EntityFinancialCombination float64 `yaml:"entity_financial_combination"`
	CCFlagged                  float64 `yaml:"cc_flagged"`
	ExecutivePair              float64 `yaml:"executive_pair"`
	SuspiciousPhrase           float64 `yaml:"suspicious_phrase"`
}

type Boosts struct {
	CriticalPeriod float64 `yaml:"critical_period"`
	Thread         float64 `yaml:"thread"`
	Attachment     float64 `yaml:"attachment"`
}

// Rules is the complete set of triage tables.
type Rules struct {
	OrganizationDomain string `yaml:"organization_domain"`
	Points             Points `yaml:"points"`
	Boosts             Boosts `yaml:"boosts"`

	WeightedTerms        []Term       `yaml:"weighted_terms"`
	SmokingGunPhrases    []string     `yaml:"smoking_gun_phrases"`
	EntityTerms          []string     `yaml:"entity_terms"`
	FinancialTerms       []string     `yaml:"financial_terms"`
	NewsletterSubjects   []string     `yaml:"newsletter_subjects"`
	SyndicationSenders   []string     `yaml:"syndication_senders"`
	FlaggedIndividuals   []Individual `yaml:"flagged_individuals"`
	ExecutivePairs       []Pair       `yaml:"executive_pairs"`
	SuspiciousPhrases    []string     `yaml:"suspicious_phrases"`
	CriticalPeriods      []string     `yaml:"critical_periods"`
	ThreadMarkers        []string     `yaml:"thread_markers"`
	AttachmentExtensions []string     `yaml:"attachment_extensions"`

	byName map[string]int
}

var (
	defaultOnce  sync.Once
	defaultRules *Rules
)

// Default returns the built-in tables. The embedded file is validated by
// tests, so a decode failure here is a build defect.
func Default() *Rules {
	defaultOnce.Do(func() {
		r, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded rules: %v", err))
		}
		defaultRules = r
	})
	return defaultRules
}

// DefaultYAML returns the embedded table source.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultYAML...)
}

// LoadFile reads tables from path. An empty path yields Default().
func LoadFile(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer file.Close()
	return Load(file)
}

// Load decodes and validates tables from r.
func Load(r io.Reader) (*Rules, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates tables from YAML.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := r.normalize(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Individual looks up a flagged individual by name.
func (r *Rules) Individual(name string) (Individual, bool) {
	idx, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Individual{}, false
	}
	return r.FlaggedIndividuals[idx], true
}

// Marshal renders the tables as YAML.
func (r *Rules) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

func (r *Rules) normalize() error {
	r.OrganizationDomain = strings.ToLower(strings.TrimSpace(r.OrganizationDomain))
	if r.OrganizationDomain == "" {
		return ErrMissingDomain
	}

	// A missing boost factor means no boost, not a zeroed score.
	for _, f := range []*float64{&r.Boosts.CriticalPeriod, &r.Boosts.Thread, &r.Boosts.Attachment} {
		if *f <= 0 {
			*f = 1
		}
	}

	for i := range r.WeightedTerms {
		t := &r.WeightedTerms[i]
		t.Term = strings.ToLower(t.Term)
		if strings.TrimSpace(t.Term) == "" {
			return fmt.Errorf("weighted_terms[%d]: %w", i, ErrEmptyTerm)
		}
		if t.Weight < 0 {
			return fmt.Errorf("weighted_terms[%d] %q: %w", i, t.Term, ErrNegativeWeight)
		}
	}

	lists := []struct {
		name  string
		items []string
	}{
		{"smoking_gun_phrases", r.SmokingGunPhrases},
		{"entity_terms", r.EntityTerms},
		{"financial_terms", r.FinancialTerms},
		{"newsletter_subjects", r.NewsletterSubjects},
		{"syndication_senders", r.SyndicationSenders},
		{"suspicious_phrases", r.SuspiciousPhrases},
		{"critical_periods", r.CriticalPeriods},
		{"thread_markers", r.ThreadMarkers},
		{"attachment_extensions", r.AttachmentExtensions},
	}
	for _, list := range lists {
		if err := lowerAll(list.name, list.items); err != nil {
			return err
		}
	}

	r.byName = make(map[string]int, len(r.FlaggedIndividuals))
	for i := range r.FlaggedIndividuals {
		ind := &r.FlaggedIndividuals[i]
		ind.Name = strings.ToLower(strings.TrimSpace(ind.Name))
		if ind.Name == "" {
			return fmt.Errorf("flagged_individuals[%d]: %w", i, ErrEmptyTerm)
		}
		if ind.Weight < 0 {
			return fmt.Errorf("flagged_individuals[%d] %q: %w", i, ind.Name, ErrNegativeWeight)
		}
		if len(ind.Aliases) == 0 {
			ind.Aliases = []string{ind.Name}
		}
		if err := lowerAll("flagged_individuals."+ind.Name+".aliases", ind.Aliases); err != nil {
			return err
		}
		r.byName[ind.Name] = i
	}

	for i := range r.ExecutivePairs {
		for j := range r.ExecutivePairs[i] {
			name := strings.ToLower(strings.TrimSpace(r.ExecutivePairs[i][j]))
			if _, ok := r.byName[name]; !ok {
				return fmt.Errorf("executive_pairs[%d] %q: %w", i, name, ErrUnknownIndividual)
			}
			r.ExecutivePairs[i][j] = name
		}
	}

	return nil
}

func lowerAll(name string, items []string) error {
	for i := range items {
		items[i] = strings.ToLower(items[i])
		if strings.TrimSpace(items[i]) == "" {
			return fmt.Errorf("%s[%d]: %w", name, i, ErrEmptyTerm)
		}
	}
	return nil
}
