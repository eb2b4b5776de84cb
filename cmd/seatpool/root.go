package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/app"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "seatpool",
		Short: "Seat pool and invite job engine",
		Long: `seatpool hands out seats on provider accounts, sends invites through the
provider API and runs bulk member jobs from a durable queue.

Configuration is read from the environment (DATABASE_URL, PROVIDER_BASE_URL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(
		newWorkerCmd(),
		newMigrateCmd(),
		newAccountCmd(),
		newInviteCmd(),
		newEnqueueCmd(),
		newJobsCmd(),
		newSweepCmd(),
		newVersionCmd(),
	)
	return root
}

// openApp loads the environment config and builds the application. Logs go
// to stderr so command output stays machine readable.
func openApp(cmd *cobra.Command, opts ...app.Option) (*app.Application, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := slogx.New(slogx.Config{
		Service: "seatpool",
		Version: app.BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  cmd.ErrOrStderr(),
	})
	opts = append([]app.Option{app.WithLogger(logger)}, opts...)

	return app.New(commandContext(cmd), cfg, opts...)
}

// withApp runs fn against a freshly opened application and closes it after.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, application *app.Application) error, opts ...app.Option) error {
	application, err := openApp(cmd, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	return fn(commandContext(cmd), application)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// defaultActor names whoever ran the command, for the job audit column.
func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "cli"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the seatpool version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "seatpool %s\n", app.BuildVersion)
			return err
		},
	}
}
