package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/packrat/internal/codec"
	"github.com/bamsammich/packrat/internal/config"
	"github.com/bamsammich/packrat/internal/engine"
	"github.com/bamsammich/packrat/internal/filter"
)

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

var _ pflag.Value = (*filterFlag)(nil)

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "string" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

func newPackCmd(opts *globalOpts) *cobra.Command {
	var (
		compressionStr   string
		chunkSizeStr     string
		filterFile       string
		minSizeStr       string
		maxSizeStr       string
		noFollowSymlinks bool
	)
	chain := filter.NewChain()

	cmd := &cobra.Command{
		Use:   "pack <sourceDir> <archivePath>",
		Short: "Write a directory tree into a compressed PAX tar archive",
		Args:  exactArgs(2, opts.stderr),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, archive := args[0], args[1]

			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			d := cfg.Defaults
			followSymlinks := !noFollowSymlinks
			applyConfigDefaults(cmd, d, opts)
			if !cmd.Flags().Changed("compression") && d.Compression != nil {
				compressionStr = *d.Compression
			}
			if !cmd.Flags().Changed("chunk-size") && d.ChunkSize != nil {
				chunkSizeStr = *d.ChunkSize
			}
			if !cmd.Flags().Changed("no-follow-symlinks") && d.FollowSymlinks != nil {
				followSymlinks = *d.FollowSymlinks
			}
			// Config excludes come before any command-line rule.
			rules := filter.NewChain()
			for _, p := range d.Exclude {
				if err := rules.AddExclude(p); err != nil {
					return usageErr(opts, fmt.Errorf("config exclude %q: %w", p, err))
				}
			}
			for _, r := range chain.Rules() {
				if r.Include {
					err = rules.AddInclude(r.Pattern.String())
				} else {
					err = rules.AddExclude(r.Pattern.String())
				}
				if err != nil {
					return usageErr(opts, err)
				}
			}

			closeLog, err := setupLogging(opts)
			if err != nil {
				return usageErr(opts, err)
			}
			defer closeLog()

			compression, err := codec.ParseCompression(compressionStr)
			if err != nil {
				return usageErr(opts, fmt.Errorf("invalid --compression: %w", err))
			}
			var chunkSize int64
			if chunkSizeStr != "" {
				if chunkSize, err = filter.ParseSize(chunkSizeStr); err != nil || chunkSize <= 0 {
					return usageErr(opts, fmt.Errorf("invalid --chunk-size %q", chunkSizeStr))
				}
				if chunkSize > engine.MaxChunkSize {
					return usageErr(opts, fmt.Errorf("--chunk-size %s exceeds the 16MiB limit", chunkSizeStr))
				}
			}
			bwLimit, err := parseBWLimit(opts.bwLimitStr)
			if err != nil {
				return usageErr(opts, err)
			}

			if filterFile != "" {
				if err := rules.LoadFile(filterFile); err != nil {
					return usageErr(opts, fmt.Errorf("load filter file: %w", err))
				}
			}
			if minSizeStr != "" {
				n, err := filter.ParseSize(minSizeStr)
				if err != nil {
					return usageErr(opts, fmt.Errorf("invalid --min-size: %w", err))
				}
				rules.SetMinSize(n)
			}
			if maxSizeStr != "" {
				n, err := filter.ParseSize(maxSizeStr)
				if err != nil {
					return usageErr(opts, fmt.Errorf("invalid --max-size: %w", err))
				}
				rules.SetMaxSize(n)
			}

			packCfg := engine.PackConfig{
				Src:            src,
				Archive:        archive,
				Compression:    compression,
				ChunkSize:      int(chunkSize),
				FollowSymlinks: followSymlinks,
				NoXattrs:       opts.noXattrs,
				Strict:         opts.strict,
				BWLimit:        bwLimit,
			}
			if !rules.Empty() {
				packCfg.Filter = rules
			}

			slog.Debug("starting pack",
				"src", src,
				"archive", archive,
				"compression", compression,
				"follow_symlinks", followSymlinks,
			)

			return runOperation(opts, "pack", func(ctx context.Context, s *session) error {
				packCfg.Events = s.events
				packCfg.Stats = s.collector
				if _, err := engine.Pack(ctx, packCfg); err != nil {
					return err
				}
				if opts.verify {
					return s.verify(ctx, archive, src)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&compressionStr, "compression", "gzip", "archive compression: gzip, zstd or none")
	f.StringVar(&chunkSizeStr, "chunk-size", "", "read size for file content (default 8KiB)")
	f.Var(&filterFlag{chain: chain, include: false}, "exclude", "exclude entries matching PATTERN (repeatable)")
	f.Var(&filterFlag{chain: chain, include: true}, "include", "include entries matching PATTERN (repeatable)")
	f.StringVar(&filterFile, "filter", "", "read filter rules from FILE")
	f.StringVar(&minSizeStr, "min-size", "", "skip files smaller than SIZE (e.g. 1M, 100K)")
	f.StringVar(&maxSizeStr, "max-size", "", "skip files larger than SIZE (e.g. 1G, 500M)")
	f.BoolVar(&noFollowSymlinks, "no-follow-symlinks", false, "store directory symlinks without archiving their contents")
	return cmd
}
