// Package report renders the reviewer shortlist.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-fraud-triage/model"
)

type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	// Scanned is the number of unique records that were scored.
	Scanned int `json:"scanned"`
	// Candidates is the size of the top-K window the tiers drew from.
	Candidates int     `json:"candidates"`
	Entries    []Entry `json:"entries"`
}

type Entry struct {
	Rank              int             `json:"rank"`
	Tier              string          `json:"tier"`
	FraudScore        float64         `json:"fraud_score"`
	FraudContextScore float64         `json:"fraud_context_score"`
	ExecCommScore     float64         `json:"exec_comm_score"`
	CriticalPeriod    bool            `json:"critical_period"`
	Owner             string          `json:"owner,omitempty"`
	MessageID         string          `json:"message_id,omitempty"`
	Date              string          `json:"date,omitempty"`
	From              string          `json:"from,omitempty"`
	To                string          `json:"to,omitempty"`
	Subject           string          `json:"subject,omitempty"`
	Rationale         model.Rationale `json:"rationale"`
}

// Build turns selections into report entries, keeping their order.
func Build(selections []model.Selection, scanned, candidates int) Report {
	r := Report{
		GeneratedAt: time.Now().UTC(),
		Scanned:     scanned,
		Candidates:  candidates,
		Entries:     make([]Entry, 0, len(selections)),
	}
	for i, sel := range selections {
		m := sel.Scored.Message
		r.Entries = append(r.Entries, Entry{
			Rank:              i + 1,
			Tier:              sel.Tier.String(),
			FraudScore:        sel.Scored.FraudScore,
			FraudContextScore: sel.Scored.FraudContextScore,
			ExecCommScore:     sel.Scored.ExecCommScore,
			CriticalPeriod:    sel.Scored.CriticalPeriod,
			Owner:             m.Owner,
			MessageID:         m.MessageID,
			Date:              m.Date,
			From:              m.From,
			To:                m.To,
			Subject:           m.Subject,
			Rationale:         sel.Rationale,
		})
	}
	return r
}

func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Render prints the shortlist as a table followed by each entry's rationale.
func Render(w io.Writer, r Report) error {
	if len(r.Entries) == 0 {
		_, err := fmt.Fprintf(w, "No messages shortlisted (%d scanned).\n", r.Scanned)
		return err
	}

	data := pterm.TableData{{"#", "Tier", "Score", "Owner", "Date", "From", "Subject"}}
	for _, e := range r.Entries {
		data = append(data, []string{
			strconv.Itoa(e.Rank),
			e.Tier,
			strconv.FormatFloat(e.FraudScore, 'f', 2, 64),
			e.Owner,
			truncate(e.Date, 31),
			truncate(e.From, 32),
			truncate(e.Subject, 48),
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Shortlist: %d of %d candidates (%d scanned)\n", len(r.Entries), r.Candidates, r.Scanned)
	b.WriteString(table)
	b.WriteString("\n\n")
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%d. %s\n", e.Rank, rationale(e))
	}

	_, err = io.WriteString(w, b.String())
	return err
}

func rationale(e Entry) string {
	r := e.Rationale
	var parts []string
	if r.Internal {
		parts = append(parts, "internal")
	}
	add := func(label string, items []string) {
		if len(items) > 0 {
			parts = append(parts, label+"="+strings.Join(items, ","))
		}
	}
	add("entities", r.EntityTerms)
	add("financial", r.FinancialTerms)
	add("smoking-gun", r.SmokingGunPhrases)
	add("suspicious", r.SuspiciousPhrases)
	add("individuals", r.FlaggedIndividuals)
	if r.ExecutivePair != "" {
		parts = append(parts, "pair="+r.ExecutivePair)
	}
	if r.CriticalPeriod {
		parts = append(parts, "critical-period")
	}
	if len(parts) == 0 {
		return "score only"
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
