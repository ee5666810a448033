// Package corpus supplies raw or cached messages to the scan pipeline.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/state"
)

var (
	ErrNoSource        = errors.New("corpus: no maildir, mbox or cache given")
	ErrConflictSources = errors.New("corpus: maildir and mbox are mutually exclusive")
	ErrCacheScope      = errors.New("corpus: record cache was built for a different folder or owner set")
)

// Source streams envelopes in a deterministic order. Per-item read failures
// are delivered as envelopes carrying Err; the returned error is fatal.
type Source interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
	Count(ctx context.Context) (int, error)
	Name() string
}

type Options struct {
	MaildirRoot string
	// Folder restricts a maildir walk to paths containing this directory
	// name, e.g. "all_documents" or "sent". Empty means every folder.
	Folder string
	// Owners restricts a maildir walk to these mailbox folders.
	Owners []string

	MboxPath  string
	MboxOwner string

	CachePath string
	Rebuild   bool
}

// Scope is the corpus selection recorded in, and required of, the cache.
func (o Options) Scope() state.Scope {
	return state.NewScope(o.Folder, o.Owners)
}

// UsesCache reports whether NewSource will read from the record cache.
func (o Options) UsesCache() bool {
	return !o.Rebuild && state.CacheMatches(o.CachePath, o.Scope())
}

// StaleCache reports whether a cache exists but was built for another scope.
func (o Options) StaleCache() bool {
	return !o.Rebuild && state.CacheExists(o.CachePath) && !o.UsesCache()
}

// NewSource picks the cache when it exists and matches the folder and owner
// selection (unless Rebuild is set), else the maildir tree, else the mbox file.
func NewSource(opts Options, logger *slog.Logger) (Source, error) {
	maildir := strings.TrimSpace(opts.MaildirRoot)
	mbox := strings.TrimSpace(opts.MboxPath)

	if maildir != "" && mbox != "" {
		return nil, ErrConflictSources
	}

	if opts.StaleCache() {
		if maildir == "" && mbox == "" {
			return nil, fmt.Errorf("%w: %s (want %s)", ErrCacheScope, opts.CachePath, opts.Scope())
		}
		if logger != nil {
			logger.Warn("record cache scope differs, rebuilding", "path", opts.CachePath, "scope", opts.Scope().String())
		}
	}

	switch {
	case opts.UsesCache():
		if logger != nil {
			logger.Info("reading parsed records from cache", "path", opts.CachePath)
		}
		return &CacheSource{Path: opts.CachePath}, nil
	case maildir != "":
		return &DirSource{Root: maildir, Folder: opts.Folder, Owners: opts.Owners, Logger: logger}, nil
	case mbox != "":
		return &MboxSource{Path: mbox, Owner: opts.MboxOwner, Logger: logger}, nil
	}

	return nil, ErrNoSource
}

func emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

func emitError(ctx context.Context, out chan<- model.Envelope, logger *slog.Logger, seq int, source string, err error) error {
	if logger != nil {
		logger.Warn("corpus read error", "source", source, "err", err)
	}
	return emitEnvelope(ctx, out, model.Envelope{Seq: seq, Source: source, Err: fmt.Errorf("%s: %w", source, err)})
}
