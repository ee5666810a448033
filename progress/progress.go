package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-fraud-triage/stats"
)

// Bar shows scan progress over the corpus. It is only drawn at info level;
// debug output would interleave with it.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	scanned int
	errors  int
	mu      sync.Mutex
	enabled bool
}

// New creates a bar for total corpus items.
func New(total int, source string, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}

	if bar.enabled {
		pterm.Info.Printf("Corpus: %s\n", source)
		pterm.Info.Printf("Messages to scan: %d\n", total)
		pterm.Println()

		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Scanning messages").
			Start()
		bar.pb = pb
	}

	return bar
}

func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar for corpus items. Error envelopes never produce a
// scanned event, so they advance the bar too.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		b.pb.Increment()
	case stats.EventTypeError:
		if evt.Stage == stats.StageCorpus {
			b.errors++
			b.pb.Increment()
		}
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the bar.
func (b *Bar) Stop() {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	b.pb.Stop()
	pterm.Success.Printf("Scanned %d messages (%d unreadable)\n", b.scanned, b.errors)
}

// Subscriber feeds runner events into the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter wraps the stats collector and prints a summary once the event
// stream closes.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
	done      chan struct{}
}

// NewReporter subscribes the bar and collector to stream. Without an active
// bar only the collector is attached and nothing is printed.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
		done:      make(chan struct{}),
	}

	if bar.Enabled() {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
	}
	stream.SubscribeStats("progress-stats", reporter.collect)

	return reporter
}

func (pr *Reporter) Summary() stats.Summary {
	return pr.collector.Snapshot()
}

func (pr *Reporter) collect(ctx context.Context, events <-chan stats.Event) error {
	defer close(pr.done)
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	if pr.logger != nil {
		pr.logger.Debug("scan counters", append(summary.LogAttrs(), "duration", time.Since(pr.started))...)
	}
	return nil
}

// PrintSummary renders the counters after the bar has stopped.
func (pr *Reporter) PrintSummary() {
	<-pr.done
	if !pr.bar.Enabled() {
		return
	}

	summary := pr.collector.Snapshot()
	pterm.Println()
	pterm.DefaultSection.Println("Scan Statistics")
	pterm.Info.Printf("Duration: %v\n", time.Since(pr.started).Round(time.Millisecond))
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Filtered out: %d\n", summary.Filtered)
	pterm.Info.Printf("Scored: %d\n", summary.Scored)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}
