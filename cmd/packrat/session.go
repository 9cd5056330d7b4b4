package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/packrat/internal/config"
	"github.com/bamsammich/packrat/internal/engine"
	"github.com/bamsammich/packrat/internal/event"
	"github.com/bamsammich/packrat/internal/filter"
	"github.com/bamsammich/packrat/internal/stats"
	"github.com/bamsammich/packrat/internal/ui"
)

var errVerifyFailed = errors.New("verification failed")

// session carries the event pipeline of one pack or unpack run.
type session struct {
	events    chan event.Event
	collector *stats.Collector
}

// verify compares archive against root and fails when anything differs.
func (s *session) verify(ctx context.Context, archive, root string) error {
	res, err := engine.Verify(ctx, engine.VerifyConfig{
		Archive: archive,
		Root:    root,
		Events:  s.events,
		Stats:   s.collector,
	})
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	for _, ve := range res.Errors {
		slog.Warn("verify mismatch", "path", ve.Path, "want", ve.Want, "got", ve.Got)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d entries: %w", res.Failed, errVerifyFailed)
	}
	return nil
}

// runOperation wires signals, the presenter and the event log around op,
// prints the summary and maps the outcome to an exit code.
func runOperation(opts *globalOpts, name string, op func(context.Context, *session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &session{
		events:    make(chan event.Event, 256),
		collector: stats.NewCollector(),
	}

	// When --log is set, tee events through a logging goroutine
	// that writes structured records before forwarding to the presenter.
	presenterEvents := (<-chan event.Event)(s.events)
	if opts.logFile != "" {
		teed := make(chan event.Event, 256)
		go func() {
			defer close(teed)
			for ev := range s.events {
				attrs := []slog.Attr{
					slog.String("type", ev.Type.String()),
					slog.String("path", ev.Path),
					slog.String("kind", ev.Kind),
					slog.Int64("size", ev.Size),
				}
				if ev.Error != nil {
					attrs = append(attrs, slog.String("error", ev.Error.Error()))
				}
				slog.LogAttrs(context.Background(), slog.LevelDebug, "packrat.event", attrs...)
				teed <- ev
			}
		}()
		presenterEvents = teed
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:     opts.stdout,
		ErrWriter:  opts.stderr,
		Stats:      s.collector,
		IsTTY:      ui.IsTerminal(opts.stderr),
		Quiet:      opts.quiet,
		Verbose:    opts.verbose,
		NoProgress: opts.noProgress,
	})

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	err := op(ctx, s)

	close(s.events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(opts.stderr, "presenter: %v\n", presenterErr)
	}
	if summary := presenter.Summary(); summary != "" {
		fmt.Fprintln(opts.stderr, summary)
	}

	if err != nil {
		slog.Error(name+" failed", "error", err)
		return &exitError{code: 1}
	}
	return nil
}

// setupLogging installs the default logger. The returned func closes the
// --log file, if any.
func setupLogging(opts *globalOpts) (func(), error) {
	logLevel := slog.LevelWarn
	switch {
	case opts.verbose:
		logLevel = slog.LevelDebug
	case !opts.quiet:
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(opts.stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	var logHandler slog.Handler = textHandler
	closer := func() {}
	if opts.logFile != "" {
		lf, err := os.Create(opts.logFile)
		if err != nil {
			return closer, fmt.Errorf("create log file: %w", err)
		}
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
		closer = func() { _ = lf.Close() }
	}
	slog.SetDefault(slog.New(logHandler))
	return closer, nil
}

// applyConfigDefaults applies config file defaults for flags not explicitly
// set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, defaults config.DefaultsConfig, opts *globalOpts) {
	if !cmd.Flags().Changed("verify") && defaults.Verify != nil {
		opts.verify = *defaults.Verify
	}
	if !cmd.Flags().Changed("strict") && defaults.Strict != nil {
		opts.strict = *defaults.Strict
	}
	if !cmd.Flags().Changed("bwlimit") && defaults.BWLimit != nil {
		opts.bwLimitStr = *defaults.BWLimit
	}
}

func parseBWLimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := filter.ParseSize(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --bwlimit: %w", err)
	}
	return n, nil
}

// usageErr reports a bad invocation and exits 1.
func usageErr(opts *globalOpts, err error) error {
	fmt.Fprintf(opts.stderr, "packrat: %v\n", err)
	return &exitError{code: 1}
}
