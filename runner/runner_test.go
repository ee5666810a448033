package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-fraud-triage/config"
	"github.com/dhcgn/mail-fraud-triage/corpus"
	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/scoring"
	"github.com/dhcgn/mail-fraud-triage/state"
	"github.com/dhcgn/mail-fraud-triage/stats"
)

const fraudRaw = "Message-ID: <1.fraud@enron>\n" +
	"From: andrew.fastow@enron.com\n" +
	"To: jeff.skilling@enron.com\n" +
	"Subject: FYI\n" +
	"\n" +
	"We should move the debt off-balance using LJM to hide losses, keep this between us\n"

const lunchRaw = "Message-ID: <2.lunch@enron>\n" +
	"From: sally@enron.com\n" +
	"To: bob@enron.com\n" +
	"Subject: lunch\n" +
	"\n" +
	"Tacos at noon?\n"

const newsRaw = "Message-ID: <3.news@enron>\n" +
	"From: alerts@reuters.com\n" +
	"To: ken.lay@enron.com\n" +
	"Subject: Energy News Daily Update\n" +
	"\n" +
	"Power prices fell.\n"

type sliceSource struct {
	envs []model.Envelope
	err  error
}

func (s *sliceSource) Name() string { return "slice" }

func (s *sliceSource) Count(context.Context) (int, error) { return len(s.envs), nil }

func (s *sliceSource) Stream(ctx context.Context, out chan<- model.Envelope) error {
	for _, env := range s.envs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- env:
		}
	}
	return s.err
}

func raw(seq int, text string) model.Envelope {
	return model.Envelope{Seq: seq, Source: "test", Owner: "fastow-a", Raw: []byte(text)}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() config.Config {
	return config.Config{Workers: 3, TopK: 50, Limit: 5, LogLevel: "info"}
}

func attachCollector(r *Runner) *stats.Collector {
	c := stats.NewCollector()
	r.SubscribeStats("test", func(ctx context.Context, events <-chan stats.Event) error {
		c.Run(ctx, events)
		return nil
	})
	return c
}

func run(t *testing.T, cfg config.Config, src corpus.Source) (*Runner, stats.Summary, error) {
	t.Helper()
	r, err := New(context.Background(), cfg, scoring.New(nil), testLogger())
	require.NoError(t, err)
	c := attachCollector(r)
	r.AddSource(src)
	err = r.Start()
	return r, c.Snapshot(), err
}

func bySeq(scored []model.Scored) []model.Scored {
	sort.Slice(scored, func(i, j int) bool { return scored[i].Seq < scored[j].Seq })
	return scored
}

func TestRunner_ScoresUniqueMessages(t *testing.T) {
	src := &sliceSource{envs: []model.Envelope{
		raw(0, fraudRaw),
		raw(1, lunchRaw),
		raw(2, fraudRaw),
		{Seq: 3, Source: "broken", Err: errors.New("permission denied")},
		raw(4, newsRaw),
	}}

	r, summary, err := run(t, baseConfig(), src)
	require.NoError(t, err)

	results := bySeq(r.Results())
	require.Len(t, results, 3)
	assert.Equal(t, []int{0, 1, 4}, []int{results[0].Seq, results[1].Seq, results[2].Seq})
	assert.Equal(t, 122.0, results[0].FraudScore)
	assert.Equal(t, "fastow-a", results[0].Message.Owner)
	assert.Zero(t, results[2].FraudContextScore)

	assert.Equal(t, 4, summary.Scanned)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 3, summary.Scored)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 3, r.Tracker().Snapshot().Processed)
}

func TestRunner_ExcludeFilter(t *testing.T) {
	cfg := baseConfig()
	cfg.ExcludeHeader = []string{`(?im)^from: .*reuters\.com`}
	cfg.ExcludeBody = []string{`Tacos`}

	src := &sliceSource{envs: []model.Envelope{raw(0, fraudRaw), raw(1, lunchRaw), raw(2, newsRaw)}}
	r, summary, err := run(t, cfg, src)
	require.NoError(t, err)

	results := r.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "<1.fraud@enron>", results[0].Message.MessageID)
	assert.Equal(t, 2, summary.Filtered)

	fs := r.Filter().GetStats()
	assert.Equal(t, 1, fs.ExcludeBodyHits["Tacos"])
}

func TestRunner_IncludeFilterOnCachedRecords(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "records.jsonl")

	cfg := baseConfig()
	cfg.CachePath = cachePath
	src := &sliceSource{envs: []model.Envelope{raw(0, fraudRaw), raw(1, lunchRaw), raw(2, newsRaw)}}
	first, _, err := run(t, cfg, src)
	require.NoError(t, err)
	require.Len(t, first.Results(), 3)
	require.True(t, state.CacheExists(cachePath))

	cfg.IncludeHeader = []string{`(?im)^From: .*fastow`}
	second, summary, err := run(t, cfg, &corpus.CacheSource{Path: cachePath})
	require.NoError(t, err)

	results := second.Results()
	require.Len(t, results, 1)
	assert.Equal(t, 122.0, results[0].FraudScore)
	assert.Equal(t, 2, summary.Filtered)
}

func TestRunner_CacheReplayMatchesCorpusScores(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "records.jsonl")

	cfg := baseConfig()
	cfg.CachePath = cachePath
	src := &sliceSource{envs: []model.Envelope{raw(0, fraudRaw), raw(1, lunchRaw), raw(2, fraudRaw), raw(3, newsRaw)}}
	first, _, err := run(t, cfg, src)
	require.NoError(t, err)

	second, _, err := run(t, cfg, &corpus.CacheSource{Path: cachePath})
	require.NoError(t, err)

	a, b := bySeq(first.Results()), bySeq(second.Results())
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Message, b[i].Message)
		assert.Equal(t, a[i].FraudScore, b[i].FraudScore)
	}
}

func TestRunner_CacheRebuiltForOtherFolder(t *testing.T) {
	root := t.TempDir()
	writeMail := func(rel, text string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	}
	writeMail(filepath.Join("fastow-a", "sent", "1."), fraudRaw)
	writeMail(filepath.Join("fastow-a", "deleted_items", "1."), lunchRaw)

	cachePath := filepath.Join(t.TempDir(), "records.jsonl")
	scan := func(folder string) []model.Scored {
		cfg := baseConfig()
		cfg.Maildir, cfg.Folder, cfg.CachePath = root, folder, cachePath
		src, err := corpus.NewSource(corpus.Options{MaildirRoot: root, Folder: folder, CachePath: cachePath}, testLogger())
		require.NoError(t, err)
		r, _, err := run(t, cfg, src)
		require.NoError(t, err)
		return r.Results()
	}

	sent := scan("sent")
	require.Len(t, sent, 1)
	assert.Equal(t, "<1.fraud@enron>", sent[0].Message.MessageID)

	deleted := scan("deleted_items")
	require.Len(t, deleted, 1)
	assert.Equal(t, "<2.lunch@enron>", deleted[0].Message.MessageID)

	scope, err := state.ReadScope(cachePath)
	require.NoError(t, err)
	assert.Equal(t, "deleted_items", scope.Folder)

	again := scan("deleted_items")
	require.Len(t, again, 1)
	assert.Equal(t, "<2.lunch@enron>", again[0].Message.MessageID)
}

func TestRunner_FatalSourceErrorFailsScan(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig()
	cfg.CachePath = filepath.Join(dir, "records.jsonl")

	src := &sliceSource{envs: []model.Envelope{raw(0, fraudRaw)}, err: errors.New("disk gone")}
	_, _, err := run(t, cfg, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.False(t, state.CacheExists(cfg.CachePath), "partial cache must be removed")
}

func TestRunner_EverySubscriberSeesEveryEvent(t *testing.T) {
	r, err := New(context.Background(), baseConfig(), scoring.New(nil), testLogger())
	require.NoError(t, err)

	a := attachCollector(r)
	b := attachCollector(r)
	r.AddSource(&sliceSource{envs: []model.Envelope{raw(0, fraudRaw), raw(1, lunchRaw)}})
	require.NoError(t, r.Start())

	assert.Equal(t, 2, a.Snapshot().Scanned)
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestRunner_RequiresScorer(t *testing.T) {
	_, err := New(context.Background(), baseConfig(), nil, testLogger())
	assert.ErrorIs(t, err, ErrScorerMissing)
}

func TestRunner_InvalidFilterPattern(t *testing.T) {
	cfg := baseConfig()
	cfg.IncludeBody = []string{"("}
	_, err := New(context.Background(), cfg, scoring.New(nil), testLogger())
	assert.Error(t, err)
}
