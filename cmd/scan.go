package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-fraud-triage/config"
	"github.com/dhcgn/mail-fraud-triage/corpus"
	"github.com/dhcgn/mail-fraud-triage/imap"
	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/progress"
	"github.com/dhcgn/mail-fraud-triage/report"
	"github.com/dhcgn/mail-fraud-triage/rules"
	"github.com/dhcgn/mail-fraud-triage/runner"
	"github.com/dhcgn/mail-fraud-triage/scoring"
	"github.com/dhcgn/mail-fraud-triage/selection"
	"github.com/dhcgn/mail-fraud-triage/stats"
)

func newScanCommand() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Score a mail corpus and print the review shortlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, func(cfg config.Config, logger *slog.Logger) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()

				logger.Info("starting fraud-triage", "maildir", cfg.Maildir, "mbox", cfg.Mbox, "cache", cfg.CachePath, "workers", cfg.Workers, "topK", cfg.TopK, "limit", cfg.Limit)
				_, err := runScan(ctx, cfg, logger, cmd.OutOrStdout())
				return err
			})
		},
	}
	config.RegisterSourceFlags(scanCmd)
	config.RegisterScanFlags(scanCmd)
	return scanCmd
}

func sourceOptions(cfg config.Config) corpus.Options {
	return corpus.Options{
		MaildirRoot: cfg.Maildir,
		Folder:      cfg.Folder,
		Owners:      cfg.Owners,
		MboxPath:    cfg.Mbox,
		MboxOwner:   cfg.MboxOwner,
		CachePath:   cfg.CachePath,
		Rebuild:     cfg.Rebuild,
	}
}

// runScan executes the whole pipeline and returns the rendered report.
func runScan(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) (report.Report, error) {
	tables, err := rules.LoadFile(cfg.RulesPath)
	if err != nil {
		return report.Report{}, fmt.Errorf("load rules: %w", err)
	}
	scorer := scoring.New(tables)

	src, err := corpus.NewSource(sourceOptions(cfg), logger)
	if err != nil {
		return report.Report{}, fmt.Errorf("corpus.NewSource: %w", err)
	}

	total := 0
	if cfg.LogLevel == "info" {
		if total, err = src.Count(ctx); err != nil {
			logger.Warn("could not count corpus", "source", src.Name(), "err", err)
			total = 0
		}
	}

	r, err := runner.New(ctx, cfg, scorer, logger)
	if err != nil {
		return report.Report{}, fmt.Errorf("runner.New: %w", err)
	}

	bar := progress.New(total, src.Name(), cfg.LogLevel)
	progressReporter := progress.NewReporter(r, bar, logger)
	statsReporter := stats.NewReporter(r, logger)
	r.AddSource(src)

	runErr := r.Start()
	bar.Stop()
	progressReporter.PrintSummary()
	if runErr != nil {
		return report.Report{}, runErr
	}

	scored := r.Results()
	policy := selection.Policy{TopK: cfg.TopK, Limit: cfg.Limit}
	selections := selection.Select(scorer, scored, policy)
	rep := report.Build(selections, len(scored), min(policy.TopK, len(scored)))

	logger.Info("shortlist ready", append(statsReporter.Summary().LogAttrs(), "shortlisted", len(selections))...)

	if !cfg.Quiet {
		if err := report.Render(out, rep); err != nil {
			return rep, err
		}
	}

	if cfg.ReportPath != "" {
		if err := writeReportFile(cfg.ReportPath, rep); err != nil {
			return rep, err
		}
		logger.Info("report written", "path", cfg.ReportPath)
	}

	if cfg.IMAPHost != "" {
		if err := exportShortlist(ctx, cfg, selections, logger); err != nil {
			return rep, err
		}
	}

	return rep, nil
}

func writeReportFile(path string, rep report.Report) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := report.WriteJSON(file, rep); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}
	return nil
}

func exportShortlist(ctx context.Context, cfg config.Config, selections []model.Selection, logger *slog.Logger) error {
	collector := stats.NewCollector()
	exporter, err := imap.NewExporter(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		TargetFolder:       cfg.TargetFolder,
		DryRun:             cfg.DryRun,
	}, collector.Apply, logger)
	if err != nil {
		return fmt.Errorf("imap.NewExporter: %w", err)
	}

	err = exporter.Export(ctx, selections)
	summary := collector.Snapshot()
	logger.Info("imap export finished", "target", cfg.TargetFolder, "exported", summary.Exported, "dryRunExported", summary.DryRunExported, "errors", summary.Errors)
	return err
}
