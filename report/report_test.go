package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-fraud-triage/model"
)

func selections() []model.Selection {
	return []model.Selection{
		{
			Scored: model.Scored{
				Seq:               4,
				Message:           model.Message{MessageID: "<a>", From: "andrew.fastow@enron.com", Subject: "LJM", Owner: "fastow-a"},
				FraudContextScore: 94,
				ExecCommScore:     28,
				FraudScore:        122,
			},
			Tier:      model.TierInternalEntityFinancial,
			Rationale: model.Rationale{Internal: true, EntityTerms: []string{"ljm"}, ExecutivePair: "fastow-skilling"},
		},
		{
			Scored: model.Scored{Seq: 9, Message: model.Message{MessageID: "<b>", Subject: "a very long subject line that certainly will not fit into the table column"}, FraudScore: 3},
			Tier:   model.TierRemaining,
		},
	}
}

func TestBuild_KeepsOrderAndRanks(t *testing.T) {
	r := Build(selections(), 100, 50)

	assert.Equal(t, 100, r.Scanned)
	assert.Equal(t, 50, r.Candidates)
	require.Len(t, r.Entries, 2)
	assert.Equal(t, 1, r.Entries[0].Rank)
	assert.Equal(t, "internal-entity-financial", r.Entries[0].Tier)
	assert.Equal(t, "fastow-a", r.Entries[0].Owner)
	assert.Equal(t, 2, r.Entries[1].Rank)
	assert.Equal(t, "remaining", r.Entries[1].Tier)
	assert.False(t, r.GeneratedAt.IsZero())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Build(selections(), 10, 2)))

	var decoded struct {
		Scanned int `json:"scanned"`
		Entries []struct {
			Tier       string  `json:"tier"`
			FraudScore float64 `json:"fraud_score"`
			Rationale  struct {
				EntityTerms []string `json:"entity_terms"`
			} `json:"rationale"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 10, decoded.Scanned)
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, 122.0, decoded.Entries[0].FraudScore)
	assert.Equal(t, []string{"ljm"}, decoded.Entries[0].Rationale.EntityTerms)
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Build(selections(), 10, 2)))

	out := buf.String()
	assert.Contains(t, out, "Shortlist: 2 of 2 candidates (10 scanned)")
	assert.Contains(t, out, "andrew.fastow@enron.com")
	assert.Contains(t, out, "122.00")
	assert.Contains(t, out, "1. internal; entities=ljm; pair=fastow-skilling")
	assert.Contains(t, out, "2. score only")
	assert.NotContains(t, out, "fit into the table column")
}

func TestRender_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Build(nil, 7, 0)))
	assert.Equal(t, "No messages shortlisted (7 scanned).\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ÄÖÜ", truncate("ÄÖÜ", 3))
}
