package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/ssgreg/logf"

	tfcontext "github.com/vnykmshr/tokenflow/pkg/common/context"
	"github.com/vnykmshr/tokenflow/pkg/config"
)

type storeOptions struct {
	addr     string
	password string
	db       int
	prefix   string
}

func newStoreCommand(root *rootOptions) *cobra.Command {
	opts := &storeOptions{}

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Push, pull, list and delete limiters in Redis",
		Long: `Share limiter parameters between processes through Redis.
Only static parameters are stored; token state never leaves a process.`,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.addr, "redis-addr", "localhost:6379", "Redis address")
	flags.StringVar(&opts.password, "redis-password", "", "Redis password")
	flags.IntVar(&opts.db, "redis-db", 0, "Redis database number")
	flags.StringVar(&opts.prefix, "prefix", config.DefaultKeyPrefix, "key prefix")

	cmd.AddCommand(
		newStorePushCommand(root, opts),
		newStorePullCommand(opts),
		newStoreListCommand(opts),
		newStoreDeleteCommand(root, opts),
	)
	return cmd
}

// withStore opens a store for the duration of fn.
func withStore(cmd *cobra.Command, opts *storeOptions, fn func(ctx context.Context, s *config.RedisStore) error) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.addr,
		Password: opts.password,
		DB:       opts.db,
	})
	defer func() { _ = rdb.Close() }()

	store, err := config.NewRedisStore(rdb, config.WithKeyPrefix(opts.prefix))
	if err != nil {
		return err
	}
	return fn(tfcontext.OrBackground(cmd.Context()), store)
}

func newStorePushCommand(root *rootOptions, opts *storeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push FILE",
		Short: "Validate FILE and store all of its limiters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}

			logger, closeLog, err := newLogger(cmd.ErrOrStderr(), root)
			if err != nil {
				return err
			}
			defer closeLog()

			return withStore(cmd, opts, func(ctx context.Context, s *config.RedisStore) error {
				if err := s.SaveDocument(ctx, doc); err != nil {
					return err
				}
				logger.Info("limiters stored",
					logf.Int("count", len(doc.Limiters)),
					logf.String("prefix", opts.prefix),
				)
				return nil
			})
		},
	}
}

func newStorePullCommand(opts *storeOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Print every stored limiter as a document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, opts, func(ctx context.Context, s *config.RedisStore) error {
				doc, err := s.LoadDocument(ctx)
				if err != nil {
					return err
				}
				return doc.Encode(cmd.OutOrStdout(), config.Format(format))
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", string(config.FormatYAML), "output format: yaml or json")
	return cmd
}

func newStoreListCommand(opts *storeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored limiter names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, opts, func(ctx context.Context, s *config.RedisStore) error {
				names, err := s.List(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newStoreDeleteCommand(root *rootOptions, opts *storeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME...",
		Short: "Delete stored limiters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closeLog, err := newLogger(cmd.ErrOrStderr(), root)
			if err != nil {
				return err
			}
			defer closeLog()

			return withStore(cmd, opts, func(ctx context.Context, s *config.RedisStore) error {
				for _, name := range args {
					if err := s.Delete(ctx, name); err != nil {
						return err
					}
					logger.Info("limiter deleted", logf.String("name", name))
				}
				return nil
			})
		},
	}
}
