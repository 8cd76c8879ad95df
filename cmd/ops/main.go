package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"salesync/internal/app"
	"salesync/internal/config"
	"salesync/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "salesync-ops",
		Short:         "One-shot operational commands for salesync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "development logging")

	cmd.AddCommand(
		newPopulateCommand(opts),
		newSweepCommand(opts),
		newRecomputeCommand(opts),
		newRelayCommand(opts),
		newEmitOrderCommand(opts),
	)
	return cmd
}

// withApp 加载配置、初始化日志并组装引擎，执行完后释放连接。
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, cfg config.AppConfig, a *app.App, log *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(opts.verbose || cfg.IsDev()); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.L()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, cfg, a, log)
}

func parseID(s, name string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return uint(v), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decodeLines[T any](raw []byte) ([]T, error) {
	var lines []T
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("decode lines: %w", err)
	}
	return lines, nil
}
