package corpus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-fraud-triage/model"
)

// MboxSource reads every message of an mbox archive as one raw text.
type MboxSource struct {
	Path string
	// Owner labels every message; defaults to the file name without extension.
	Owner  string
	Logger *slog.Logger

	// data replaces the file contents when set.
	data []byte
}

func (m *MboxSource) Name() string {
	return "mbox:" + m.Path
}

func (m *MboxSource) owner() string {
	if m.Owner != "" {
		return m.Owner
	}
	base := filepath.Base(m.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (m *MboxSource) open() (*mboxlib.Reader, func(), error) {
	if m.data != nil {
		return mboxlib.NewReader(bytes.NewReader(m.data)), func() {}, nil
	}
	file, err := os.Open(m.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open mbox: %w", err)
	}
	return mboxlib.NewReader(file), func() { _ = file.Close() }, nil
}

// Stream emits one envelope per mbox message. A message that cannot be read
// is reported and skipped; a broken mbox framing ends the stream.
func (m *MboxSource) Stream(ctx context.Context, out chan<- model.Envelope) error {
	reader, closeFn, err := m.open()
	if err != nil {
		return err
	}
	defer closeFn()

	owner := m.owner()
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("mbox message %d: %w", idx, err)
		}

		source := fmt.Sprintf("%s#%d", m.Path, idx)
		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if err := emitError(ctx, out, m.Logger, idx, source, err); err != nil {
				return err
			}
			continue
		}

		if err := emitEnvelope(ctx, out, model.Envelope{Seq: idx, Source: source, Owner: owner, Raw: raw}); err != nil {
			return err
		}
	}
}

// Count counts the messages in the archive without parsing them.
func (m *MboxSource) Count(ctx context.Context) (int, error) {
	reader, closeFn, err := m.open()
	if err != nil {
		return 0, err
	}
	defer closeFn()

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// Just consume the message without parsing
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
