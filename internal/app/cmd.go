package app

import (
	"io"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はthreadpulseのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして起動する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "threadpulse",
		Short:         "Thread activity analytics API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCommand(w, cmd)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newServeCommand(w),
		newWorkerCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
	)
	return root
}

func serveCommand(w io.Writer, cmd *cobra.Command) error {
	cfg, log, err := Init(w)
	if err != nil {
		return err
	}
	return runServe(cmd.Context(), cfg, log)
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCommand(w, cmd)
		},
	}
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the retention cleanup worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := Init(w)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, log)
		},
	}
}

// newMigrateCommand はmigrateコマンドを生成する。
// 引数なしのmigrateはmigrate upと同じ。
func newMigrateCommand(w io.Writer) *cobra.Command {
	up := func(cmd *cobra.Command, args []string) error {
		cfg, log, err := Init(w)
		if err != nil {
			return err
		}
		return runMigrate(cfg, log)
	}

	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE:  up,
	}

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := Init(w)
			if err != nil {
				return err
			}
			return runMigrateDown(cfg, log, steps)
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  up,
		},
		downCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := Init(w)
				if err != nil {
					return err
				}
				return runMigrateVersion(cmd.OutOrStdout(), cfg)
			},
		},
	)
	return migrateCmd
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みを行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check that the local API server is healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(healthcheckURL(port))
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "server port (default: $SERVER_PORT or 8080)")
	return cmd
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}
