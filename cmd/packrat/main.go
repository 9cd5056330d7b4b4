package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/packrat/internal/engine"
)

var version = "dev"

const usageLine = "usage: packrat pack <sourceDir> <archivePath> | packrat unpack <archivePath> <destinationDir>"

func main() {
	code := run(os.Args[1:], os.Stdout, os.Stderr)
	engine.CleanupTmpFiles()
	os.Exit(code)
}

// globalOpts holds flags shared by pack and unpack.
type globalOpts struct {
	verbose    bool
	quiet      bool
	strict     bool
	verify     bool
	noProgress bool
	noXattrs   bool
	bwLimitStr string
	logFile    string
	stdout     io.Writer
	stderr     io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	var showVersion bool
	opts := &globalOpts{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "packrat <command> <source> <destination>",
		Short: "Pack directory trees into PAX tar archives and unpack them safely",
		Args: func(_ *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			if len(args) != 3 {
				fmt.Fprintln(stderr, usageLine)
				return &exitError{code: 1}
			}
			fmt.Fprintf(stderr, "packrat: unknown command %q\n%s\n", args[0], usageLine)
			return &exitError{code: 2}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(stdout, "packrat %s\n", version)
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if args == nil {
		// cobra falls back to os.Args on nil.
		args = []string{}
	}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all output except errors")
	pf.BoolVar(&opts.strict, "strict", false, "exit non-zero if any entry failed")
	pf.BoolVar(&opts.verify, "verify", false, "re-read the archive and compare it with the tree (BLAKE3)")
	pf.BoolVar(&opts.noProgress, "no-progress", false, "disable progress display")
	pf.BoolVar(&opts.noXattrs, "no-xattrs", false, "don't record or restore extended attributes")
	pf.StringVar(&opts.bwLimitStr, "bwlimit", "", "limit archive throughput (e.g. 100M, 1G)")
	pf.StringVar(&opts.logFile, "log", "", "write structured JSON log to FILE")

	rootCmd.AddCommand(newPackCmd(opts))
	rootCmd.AddCommand(newUnpackCmd(opts))
	rootCmd.AddCommand(newDocsCmd())

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// exactArgs requires n positional arguments, printing usage otherwise.
func exactArgs(n int, stderr io.Writer) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			fmt.Fprintln(stderr, usageLine)
			return &exitError{code: 1}
		}
		return nil
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
