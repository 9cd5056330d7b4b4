package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/packrat/internal/config"
	"github.com/bamsammich/packrat/internal/engine"
)

func newUnpackCmd(opts *globalOpts) *cobra.Command {
	var (
		noOwner  bool
		noPerms  bool
		noTimes  bool
		noUnlink bool
		noSparse bool
	)

	cmd := &cobra.Command{
		Use:   "unpack <archivePath> <destinationDir>",
		Short: "Extract an archive into a directory, refusing paths that escape it",
		Args:  exactArgs(2, opts.stderr),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, dst := args[0], args[1]

			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			applyConfigDefaults(cmd, cfg.Defaults, opts)

			closeLog, err := setupLogging(opts)
			if err != nil {
				return usageErr(opts, err)
			}
			defer closeLog()

			bwLimit, err := parseBWLimit(opts.bwLimitStr)
			if err != nil {
				return usageErr(opts, err)
			}

			if err := os.MkdirAll(dst, 0o755); err != nil {
				return usageErr(opts, fmt.Errorf("create destination: %w", err))
			}

			restore := engine.RestoreOptions{
				Owner:  !noOwner,
				Perms:  !noPerms,
				Times:  !noTimes,
				Xattrs: !opts.noXattrs,
				Unlink: !noUnlink,
				Sparse: !noSparse,
			}

			slog.Debug("starting unpack",
				"archive", archive,
				"dst", dst,
				"owner", restore.Owner,
				"perms", restore.Perms,
			)

			return runOperation(opts, "unpack", func(ctx context.Context, s *session) error {
				_, err := engine.Unpack(ctx, engine.UnpackConfig{
					Archive: archive,
					Dst:     dst,
					Restore: &restore,
					Strict:  opts.strict,
					BWLimit: bwLimit,
					Events:  s.events,
					Stats:   s.collector,
				})
				if err != nil {
					return err
				}
				if opts.verify {
					return s.verify(ctx, archive, dst)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.BoolVar(&noOwner, "no-owner", false, "don't restore file ownership")
	f.BoolVar(&noPerms, "no-perms", false, "don't restore permission bits; the umask applies")
	f.BoolVar(&noTimes, "no-times", false, "don't restore access and modification times")
	f.BoolVar(&noUnlink, "keep-existing", false, "fail entries whose target already exists instead of replacing it")
	f.BoolVar(&noSparse, "no-sparse", false, "write zero runs instead of leaving holes")
	return cmd
}
