package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-fraud-triage/config"
	"github.com/dhcgn/mail-fraud-triage/corpus"
	"github.com/dhcgn/mail-fraud-triage/filter"
	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/parser"
	"github.com/dhcgn/mail-fraud-triage/stats"
)

var trackedHeaders = []string{"Owner", "From", "To", "Subject"}

type corpusCounts struct {
	scanned  int
	skipped  int
	errors   int
	counters map[string]map[string]int
}

func newCorpusStatsCommand() *cobra.Command {
	var (
		reportDir string
		topN      int
	)

	statsCmd := &cobra.Command{
		Use:   "corpus-stats",
		Short: "Count the most frequent owners, senders, recipients and subjects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, func(cfg config.Config, logger *slog.Logger) error {
				src, err := corpus.NewSource(sourceOptions(cfg), logger)
				if err != nil {
					return fmt.Errorf("corpus.NewSource: %w", err)
				}
				f, err := filter.New(filter.Options{
					IncludeHeader: cfg.IncludeHeader,
					IncludeBody:   cfg.IncludeBody,
					ExcludeHeader: cfg.ExcludeHeader,
					ExcludeBody:   cfg.ExcludeBody,
				})
				if err != nil {
					return fmt.Errorf("create filter: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Analyzing corpus:", src.Name())

				counts, err := countCorpus(cmd.Context(), src, f)
				if err != nil {
					return err
				}
				printCorpusStats(out, counts, f, topN)

				if err := saveCSVReports(counts.counters, trackedHeaders, reportDir, 1000); err != nil {
					return fmt.Errorf("error saving CSV reports: %w", err)
				}
				fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
				return nil
			})
		},
	}

	config.RegisterSourceFlags(statsCmd)
	statsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	statsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	return statsCmd
}

func countCorpus(ctx context.Context, src corpus.Source, f *filter.Filter) (corpusCounts, error) {
	counts := corpusCounts{counters: make(map[string]map[string]int, len(trackedHeaders))}
	for _, h := range trackedHeaders {
		counts.counters[h] = make(map[string]int)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	envelopes := make(chan model.Envelope, 32)
	done := make(chan error, 1)
	go func() {
		done <- src.Stream(ctx, envelopes)
		close(envelopes)
	}()

	for env := range envelopes {
		if env.Err != nil {
			counts.errors++
			continue
		}

		var (
			msg          model.Message
			header, body []byte
		)
		if env.Parsed != nil {
			msg = *env.Parsed
			header, body = parser.HeaderBlock(msg), []byte(msg.Body)
		} else {
			msg = parser.Parse(env.Raw, env.Owner)
			var found bool
			if header, body, found = parser.SplitRawMessage(env.Raw); !found {
				header, body = env.Raw, nil
			}
		}

		if !f.Allows(header, body) {
			counts.skipped++
			continue
		}

		counts.scanned++
		for _, h := range trackedHeaders {
			if value := headerValue(msg, h); value != "" {
				counts.counters[h][value]++
			}
		}
	}

	if err := <-done; err != nil {
		return counts, fmt.Errorf("read corpus: %w", err)
	}
	return counts, nil
}

func headerValue(m model.Message, header string) string {
	switch header {
	case "Owner":
		return m.Owner
	case "From":
		return m.From
	case "To":
		return m.To
	case "Subject":
		return m.Subject
	}
	return ""
}

func printCorpusStats(w io.Writer, counts corpusCounts, f *filter.Filter, topN int) {
	total := counts.scanned + counts.skipped
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(counts.skipped) / float64(total) * 100
	}
	fmt.Fprintf(w, "Processed %d messages (skipped %d by filters, %.2f%%, %d unreadable)\n\n", counts.scanned, counts.skipped, filterPercent, counts.errors)

	filterStats := f.GetStats()
	sections := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Header Filters", filterStats.IncludeHeaderPatterns, filterStats.IncludeHeaderHits},
		{"Include Body Filters", filterStats.IncludeBodyPatterns, filterStats.IncludeBodyHits},
		{"Exclude Header Filters", filterStats.ExcludeHeaderPatterns, filterStats.ExcludeHeaderHits},
		{"Exclude Body Filters", filterStats.ExcludeBodyPatterns, filterStats.ExcludeBodyHits},
	}
	hasFilterStats := false
	for _, s := range sections {
		if len(s.patterns) == 0 {
			continue
		}
		hasFilterStats = true
		fmt.Fprintf(w, "%s:\n", s.title)
		printFilterHits(w, s.patterns, s.hits)
		fmt.Fprintln(w)
	}
	if hasFilterStats {
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}

	for _, header := range trackedHeaders {
		fmt.Fprintf(w, "Top %d %s:\n", topN, header)
		stats.PrettyPrintTop(w, counts.counters[header], topN)
		fmt.Fprintln(w)
	}
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(header)))
		if err := writeCSVReport(filePath, stats.TopN(counter[header], limit)); err != nil {
			return err
		}
	}

	return nil
}

func writeCSVReport(path string, pairs []stats.Pair) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(w io.Writer, patterns []string, hits map[string]int) {
	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(patterns))
	for _, pattern := range patterns {
		pairs = append(pairs, pair{pattern, hits[pattern]})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Fprintf(w, "  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Fprintf(w, "  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}
