package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/internal/migration"
)

// migrateOptions 迁移命令的公共参数
type migrateOptions struct {
	configPath *string
	dbType     string
	dbURL      string
	verbose    bool
}

// migrateCmd 管理 SQL 状态表（hitl_threads / hitl_preferences）的版本
func migrateCmd(configPath *string) *cobra.Command {
	opts := &migrateOptions{configPath: configPath}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage SQL state store schema migrations",
		Long: `Manage the schema of the SQL state store.

Connection settings come from the database section of the config file unless
both --db-type and --db-url are given.`,
	}
	cmd.PersistentFlags().StringVar(&opts.dbType, "db-type", "", "database type: postgres, mysql, sqlite")
	cmd.PersistentFlags().StringVar(&opts.dbURL, "db-url", "", "database connection URL")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log migration steps")

	run := func(fn func(ctx context.Context, cli *migration.CLI) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			m, err := opts.migrator()
			if err != nil {
				return err
			}
			defer m.Close()

			cli := migration.NewCLI(m)
			cli.SetOutput(cmd.OutOrStdout())
			return fn(cmd.Context(), cli)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cli *migration.CLI) error {
				return cli.RunUp(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cli *migration.CLI) error {
				return cli.RunDown(ctx)
			}),
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations (negative N rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return run(func(ctx context.Context, cli *migration.CLI) error {
					return cli.RunSteps(ctx, n)
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "goto VERSION",
			Short: "Migrate up or down to VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return run(func(ctx context.Context, cli *migration.CLI) error {
					return cli.RunGoto(ctx, uint(v))
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the recorded version without running migrations (clears dirty state)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return run(func(ctx context.Context, cli *migration.CLI) error {
					return cli.RunForce(ctx, v)
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cli *migration.CLI) error {
				return cli.RunVersion(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cli *migration.CLI) error {
				return cli.RunStatus(ctx)
			}),
		},
	)
	return cmd
}

// migrator 优先使用 --db-type/--db-url，否则读取配置文件的 database 段
func (o *migrateOptions) migrator() (migration.Migrator, error) {
	logger := zap.NewNop()
	if o.verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	if o.dbType != "" && o.dbURL != "" {
		m, err := migration.NewMigratorFromURL(o.dbType, o.dbURL, logger)
		if err != nil {
			return nil, fmt.Errorf("create migrator: %w", err)
		}
		return m, nil
	}
	if o.dbURL != "" {
		return nil, fmt.Errorf("--db-url requires --db-type")
	}

	cfg, _, err := loadConfig(*o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbType != "" {
		cfg.Database.Driver = o.dbType
	}
	m, err := migration.NewMigratorFromConfig(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}
