package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/stats"
)

const (
	HeaderScore = "X-Fraud-Score"
	HeaderTier  = "X-Fraud-Tier"
	HeaderOwner = "X-Fraud-Owner"
)

var ErrNoHost = errors.New("imap host is empty")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	DryRun             bool
}

// Exporter appends shortlisted records to an IMAP folder for reviewers.
type Exporter struct {
	opts   Options
	emit   func(stats.Event)
	logger *slog.Logger
}

// NewExporter validates opts. emit may be nil.
func NewExporter(opts Options, emit func(stats.Event), logger *slog.Logger) (*Exporter, error) {
	if opts.Host == "" && !opts.DryRun {
		return nil, ErrNoHost
	}
	if !opts.DryRun && (opts.Port <= 0 || opts.Port > 65535) {
		return nil, fmt.Errorf("imap port must be between 1 and 65535")
	}
	if emit == nil {
		emit = func(stats.Event) {}
	}
	return &Exporter{opts: opts, emit: emit, logger: logger}, nil
}

// Export appends every selection in order. The first failure aborts.
func (e *Exporter) Export(ctx context.Context, selections []model.Selection) error {
	if len(selections) == 0 {
		return nil
	}

	var (
		client  *imapclient.Client
		cleanup func()
	)
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	for _, sel := range selections {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := sel.Scored.Message.MessageID
		raw, err := BuildMessage(sel)
		if err != nil {
			err = fmt.Errorf("build message %s: %w", id, err)
			e.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeError, MessageID: id, Err: err})
			return err
		}

		if e.opts.DryRun {
			e.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeDryRunExport, MessageID: id})
			if e.logger != nil {
				e.logger.Info("dry-run export", "messageID", id, "tier", sel.Tier.String(), "score", sel.Scored.FraudScore, "target", e.targetFolder(), "bytes", len(raw))
			}
			continue
		}

		if client == nil {
			client, cleanup, err = e.dial(ctx)
			if err != nil {
				e.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeError, MessageID: id, Err: err})
				return err
			}
		}

		if err := e.appendMessage(client, raw); err != nil {
			err = fmt.Errorf("export message %s: %w", id, err)
			e.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeError, MessageID: id, Err: err})
			return err
		}

		e.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeExported, MessageID: id})
		if e.logger != nil {
			e.logger.Debug("exported message", "messageID", id, "tier", sel.Tier.String(), "target", e.targetFolder())
		}
	}

	return nil
}

// BuildMessage renders a selection as a plain-text RFC 5322 message whose
// body is prefixed with the triage rationale.
func BuildMessage(sel model.Selection) ([]byte, error) {
	m := sel.Scored.Message

	var h mail.Header
	h.Set("MIME-Version", "1.0")
	if m.MessageID != "" {
		h.Set("Message-Id", m.MessageID)
	}
	if m.Date != "" {
		h.Set("Date", m.Date)
	}
	if m.From != "" {
		h.Set("From", m.From)
	}
	if m.To != "" {
		h.Set("To", m.To)
	}
	if m.XCc != "" {
		h.Set("X-Cc", m.XCc)
	}
	h.SetSubject(m.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set(HeaderScore, strconv.FormatFloat(sel.Scored.FraudScore, 'f', 2, 64))
	h.Set(HeaderTier, sel.Tier.String())
	if m.Owner != "" {
		h.Set(HeaderOwner, m.Owner)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	if _, err := w.Write([]byte(triageNote(sel) + m.Body + "\n")); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func triageNote(sel model.Selection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tier: %s\n", sel.Tier)
	fmt.Fprintf(&b, "Fraud score: %.2f (context %.2f, executive %.2f)\n",
		sel.Scored.FraudScore, sel.Scored.FraudContextScore, sel.Scored.ExecCommScore)

	r := sel.Rationale
	lines := []struct {
		label string
		items []string
	}{
		{"Entities", r.EntityTerms},
		{"Financial terms", r.FinancialTerms},
		{"Smoking-gun phrases", r.SmokingGunPhrases},
		{"Suspicious phrases", r.SuspiciousPhrases},
		{"Flagged individuals", r.FlaggedIndividuals},
	}
	for _, l := range lines {
		if len(l.items) > 0 {
			fmt.Fprintf(&b, "%s: %s\n", l.label, strings.Join(l.items, ", "))
		}
	}
	if r.ExecutivePair != "" {
		fmt.Fprintf(&b, "Executive pair: %s\n", r.ExecutivePair)
	}
	if r.CriticalPeriod {
		b.WriteString("Sent during a critical period\n")
	}
	b.WriteString("\n-----\n\n")
	return b.String()
}

func (e *Exporter) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(e.opts.Host, strconv.Itoa(e.opts.Port))
	options := &imapclient.Options{}

	if e.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         e.opts.Host,
			InsecureSkipVerify: e.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if e.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(e.opts.Username, e.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := e.ensureMailbox(client); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	if e.logger != nil {
		e.logger.Debug("imap connection established", "address", address, "user", e.opts.Username, "target", e.targetFolder(), "tls", e.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && e.logger != nil {
				e.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil && e.logger != nil {
			e.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (e *Exporter) appendMessage(client *imapclient.Client, raw []byte) error {
	cmd := client.Append(e.targetFolder(), int64(len(raw)), nil)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (e *Exporter) targetFolder() string {
	if e.opts.TargetFolder == "" {
		return "INBOX"
	}
	return e.opts.TargetFolder
}

func (e *Exporter) ensureMailbox(client *imapclient.Client) error {
	target := e.targetFolder()
	if err := client.Create(target, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if e.logger != nil {
				e.logger.Debug("imap mailbox already exists", "mailbox", target)
			}
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if e.logger != nil {
		e.logger.Info("imap mailbox created", "mailbox", target)
	}

	return nil
}
