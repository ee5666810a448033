package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dhcgn/mail-fraud-triage/config"
	"github.com/dhcgn/mail-fraud-triage/corpus"
	"github.com/dhcgn/mail-fraud-triage/filter"
	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/parser"
	"github.com/dhcgn/mail-fraud-triage/scoring"
	"github.com/dhcgn/mail-fraud-triage/state"
	"github.com/dhcgn/mail-fraud-triage/stats"
)

var ErrScorerMissing = errors.New("runner requires a scorer")

type StageFunc func(context.Context) error

// Runner drives one scan: envelopes from a corpus source are parsed,
// deduplicated, optionally cached and filtered, then scored by a pool of
// workers. Results are available after Start returns.
type Runner struct {
	logger *slog.Logger
	scorer *scoring.Scorer
	filter *filter.Filter
	cache  *state.CacheWriter

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	records  chan record
	results  chan model.Scored
	events   chan stats.Event

	tracker state.Tracker

	workWG     sync.WaitGroup
	scoreWG    sync.WaitGroup
	statsWG    sync.WaitGroup
	dispatchWG sync.WaitGroup

	subMu       sync.Mutex
	subscribers []chan stats.Event

	errMu sync.Mutex
	err   error

	resultsMu sync.Mutex
	scored    []model.Scored

	closeMailboxOnce sync.Once
	closeRecordsOnce sync.Once
	closeResultsOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

type record struct {
	seq int
	msg model.Message
}

func New(parent context.Context, cfg config.Config, scorer *scoring.Scorer, logger *slog.Logger) (*Runner, error) {
	if scorer == nil {
		return nil, ErrScorerMissing
	}
	if logger == nil {
		logger = slog.Default()
	}

	flt, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	var cache *state.CacheWriter
	if cfg.CachePath != "" && !cfg.HasCache() {
		if !cfg.Rebuild && state.CacheExists(cfg.CachePath) {
			logger.Warn("record cache scope differs, rewriting", "path", cfg.CachePath, "scope", cfg.CacheScope().String())
		}
		cache, err = state.NewCacheWriter(cfg.CachePath, cfg.CacheScope())
		if err != nil {
			return nil, fmt.Errorf("record cache: %w", err)
		}
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Runner{
		logger:   logger,
		scorer:   scorer,
		filter:   flt,
		cache:    cache,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		records:  make(chan record, 32),
		results:  make(chan model.Scored, 32),
		events:   make(chan stats.Event, 128),
		tracker:  state.NewMemoryTracker(),
	}

	r.AddStage("bridge", r.bridge)
	for i := 0; i < workers; i++ {
		r.scoreWG.Add(1)
		r.AddStage(fmt.Sprintf("score-%d", i), r.score)
	}
	r.AddStage("score-close", func(context.Context) error {
		r.scoreWG.Wait()
		r.closeResults()
		return nil
	})
	r.AddStage("collect", r.collect)
	return r, nil
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

// AddSource streams src into the pipeline and closes the mailbox when done.
func (r *Runner) AddSource(src corpus.Source) {
	r.AddStage("corpus", func(ctx context.Context) error {
		r.logger.Debug("corpus stream started", "source", src.Name())
		err := src.Stream(ctx, r.messages)
		if err != nil && !errors.Is(err, context.Canceled) {
			// fail before closing so the bridge sees the cancellation.
			r.fail(fmt.Errorf("corpus stage: %s: %w", src.Name(), err))
		}
		r.CloseMailbox()
		return nil
	})
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats registers fn to receive every event. Subscribers must be
// registered before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start blocks until every stage and subscriber has finished.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.dispatchWG.Add(1)
	go r.dispatch()

	r.workWG.Wait()
	r.closeEvents()
	r.dispatchWG.Wait()
	r.statsWG.Wait()

	r.cancel()

	err := r.Err()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration, "scored", len(r.scored), "unique", r.tracker.Snapshot().Processed)
	return nil
}

// Results returns the scored records in arrival order.
func (r *Runner) Results() []model.Scored {
	r.resultsMu.Lock()
	defer r.resultsMu.Unlock()
	out := make([]model.Scored, len(r.scored))
	copy(out, r.scored)
	return out
}

func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) dispatch() {
	defer r.dispatchWG.Done()

	r.subMu.Lock()
	subs := append([]chan stats.Event(nil), r.subscribers...)
	r.subMu.Unlock()

	for evt := range r.events {
		for _, ch := range subs {
			select {
			case ch <- evt:
			case <-r.ctx.Done():
			}
		}
	}
	for _, ch := range subs {
		close(ch)
	}
}

func (r *Runner) bridge(ctx context.Context) (err error) {
	defer r.closeRecords()
	defer func() {
		if cerr := r.closeCache(err); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageCorpus, Type: stats.EventTypeError, Err: envelope.Err, Detail: envelope.Source})
				continue
			}

			var (
				msg          model.Message
				header, body []byte
			)
			if envelope.Parsed != nil {
				msg = *envelope.Parsed
				header, body = parser.HeaderBlock(msg), []byte(msg.Body)
			} else {
				msg = parser.Parse(envelope.Raw, envelope.Owner)
				var found bool
				header, body, found = parser.SplitRawMessage(envelope.Raw)
				if !found {
					header, body = envelope.Raw, nil
				}
			}
			r.EmitEvent(stats.Event{Stage: stats.StageCorpus, Type: stats.EventTypeScanned, MessageID: msg.MessageID, Detail: envelope.Source})

			key := state.Key(msg)
			if r.tracker.AlreadyProcessed(key) {
				r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeDuplicate, MessageID: msg.MessageID, Detail: envelope.Source})
				continue
			}
			if err := r.tracker.MarkProcessed(key, msg.MessageID); err != nil {
				return fmt.Errorf("mark processed: %w", err)
			}

			if r.cache != nil {
				if err := r.cache.Write(msg); err != nil {
					return err
				}
			}

			if !r.filter.Allows(header, body) {
				r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeFiltered, MessageID: msg.MessageID, Detail: envelope.Source})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.records <- record{seq: envelope.Seq, msg: msg}:
			}
		}
	}
}

func (r *Runner) score(ctx context.Context) error {
	defer r.scoreWG.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-r.records:
			if !ok {
				return nil
			}
			scored := r.scorer.Score(rec.seq, rec.msg)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.results <- scored:
			}
		}
	}
}

func (r *Runner) collect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sc, ok := <-r.results:
			if !ok {
				return nil
			}
			r.resultsMu.Lock()
			r.scored = append(r.scored, sc)
			r.resultsMu.Unlock()
			r.EmitEvent(stats.Event{Stage: stats.StageScore, Type: stats.EventTypeScored, MessageID: sc.Message.MessageID})
		}
	}
}

// closeCache finalizes the record cache. A partial cache is removed so the
// next scan does not mistake it for a complete one.
func (r *Runner) closeCache(scanErr error) error {
	if r.cache == nil {
		return nil
	}
	written := r.cache.Written()
	err := r.cache.Close()
	if scanErr != nil || r.ctx.Err() != nil {
		if rmErr := os.Remove(r.cache.Path()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			r.logger.Warn("remove partial record cache", "path", r.cache.Path(), "err", rmErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("close record cache: %w", err)
	}
	r.logger.Info("record cache written", "path", r.cache.Path(), "records", written)
	return nil
}

func (r *Runner) closeRecords() {
	r.closeRecordsOnce.Do(func() {
		close(r.records)
	})
}

func (r *Runner) closeResults() {
	r.closeResultsOnce.Do(func() {
		close(r.results)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
