package sessionctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-security-engine/internal/config"
	"github.com/sandeepkv93/session-security-engine/internal/di"
	"github.com/sandeepkv93/session-security-engine/internal/tools/common"
	"github.com/sandeepkv93/session-security-engine/internal/tools/loadgen"
	"github.com/sandeepkv93/session-security-engine/internal/tools/ui"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
	out     io.Writer

	maintenance func(ctx context.Context) (maintenanceOps, func(), error)
}

type maintenanceOps interface {
	SweepExpiredSessions(ctx context.Context) (int, error)
	RevokeAllSessions(ctx context.Context, email string) (uint, int64, error)
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{maintenance: loadMaintenance})
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Operate the session store of the session security engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.out = cmd.OutOrStdout()
			return common.LoadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional KEY=VALUE file loaded before config")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "command timeout")
	cmd.AddCommand(newSweepCommand(opts), newRevokeAllCommand(opts), newTrafficCommand(opts))
	return cmd
}

func newSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions whose refresh token has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl sweep", 3, func(ctx context.Context) ([]string, error) {
				m, cleanup, err := opts.maintenance(ctx)
				if err != nil {
					return nil, err
				}
				defer cleanup()
				removed, err := m.SweepExpiredSessions(ctx)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("removed=%d", removed)}, nil
			})
		},
	}
}

func newRevokeAllCommand(opts *options) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoke every session of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				cmd.PrintErrln("--email is required")
				return &ExitError{Code: 2, Err: errors.New("--email is required")}
			}
			return execute(opts, "sessionctl revoke-all", 3, func(ctx context.Context) ([]string, error) {
				m, cleanup, err := opts.maintenance(ctx)
				if err != nil {
					return nil, err
				}
				defer cleanup()
				id, n, err := m.RevokeAllSessions(ctx, email)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("user_id=%d revoked=%d", id, n)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func newTrafficCommand(opts *options) *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "traffic",
		Short: "Drive login, refresh and token replay traffic against a running API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl traffic", 4, func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{
					fmt.Sprintf("requests=%d failures=%d", res.TotalRequests, res.Failures),
					fmt.Sprintf("2xx=%d 4xx=%d 5xx=%d", res.StatusClasses["2xx"], res.StatusClasses["4xx"], res.StatusClasses["5xx"]),
					fmt.Sprintf("replays_rejected=%d", res.ReuseRejections),
				}
				if res.Failures > 0 {
					return details, fmt.Errorf("%d requests failed", res.Failures)
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "auth, refresh or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "target requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "parallel clients")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 42, "random seed for the mixed profile")
	return cmd
}

func loadMaintenance(ctx context.Context) (maintenanceOps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return di.InitializeMaintenance(ctx, cfg)
}

func execute(opts *options, title string, failCode int, fn func(context.Context) ([]string, error)) error {
	var (
		details []string
		err     error
	)
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		details, err = fn(ctx)
		common.PrintCIResult(err == nil, title, details, err)
	} else {
		details, err = ui.Run(title, fn)
		_, _ = io.WriteString(opts.out, common.FormatHumanResult(err == nil, title, details, err))
	}
	if err != nil {
		return &ExitError{Code: failCode, Err: err}
	}
	return nil
}
