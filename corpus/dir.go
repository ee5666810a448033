package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/mail-fraud-triage/model"
)

// DirSource walks a maildir-style tree such as the Enron corpus
// (root/<owner>/<folder>/.../<file>).
type DirSource struct {
	Root   string
	Folder string
	Owners []string
	Logger *slog.Logger
}

func (d *DirSource) Name() string {
	return "maildir:" + d.Root
}

// Stream emits one envelope per included file, in lexical path order.
func (d *DirSource) Stream(ctx context.Context, out chan<- model.Envelope) error {
	seq := 0
	return d.walk(ctx, func(path, owner string) error {
		raw, err := os.ReadFile(path)
		if err != nil {
			err = emitError(ctx, out, d.Logger, seq, path, err)
			seq++
			return err
		}
		err = emitEnvelope(ctx, out, model.Envelope{Seq: seq, Source: path, Owner: owner, Raw: raw})
		seq++
		return err
	})
}

// Count returns the number of files Stream would emit.
func (d *DirSource) Count(ctx context.Context) (int, error) {
	count := 0
	err := d.walk(ctx, func(string, string) error {
		count++
		return nil
	})
	return count, err
}

func (d *DirSource) walk(ctx context.Context, fn func(path, owner string) error) error {
	root := filepath.Clean(d.Root)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("open maildir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("maildir %s is not a directory", root)
	}

	owners := make(map[string]bool, len(d.Owners))
	for _, o := range d.Owners {
		if o = strings.TrimSpace(o); o != "" {
			owners[strings.ToLower(o)] = true
		}
	}

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if d.Logger != nil {
				d.Logger.Warn("skipping unreadable path", "path", path, "err", walkErr)
			}
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if entry.IsDir() {
			if len(parts) == 1 && len(owners) > 0 && !owners[strings.ToLower(parts[0])] {
				return fs.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		owner := ""
		if len(parts) > 1 {
			owner = parts[0]
		}
		if len(owners) > 0 && !owners[strings.ToLower(owner)] {
			return nil
		}
		if d.Folder != "" && !containsDir(parts[:len(parts)-1], d.Folder) {
			return nil
		}

		return fn(path, owner)
	})
}

// containsDir reports whether any directory component contains name, so
// "sent" also selects "sent_items" and "_sent_mail".
func containsDir(dirs []string, name string) bool {
	name = strings.ToLower(name)
	for _, dir := range dirs {
		if strings.Contains(strings.ToLower(dir), name) {
			return true
		}
	}
	return false
}
