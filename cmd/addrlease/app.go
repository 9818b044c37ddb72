package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/addrlease"
	"pkt.systems/addrlease/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := newBaseLogger(os.Stderr)
	cmd := newRootCommand(baseLogger)
	rootInvocation := invocationTargetsRootCommand(cmd, os.Args[1:])
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if rootInvocation {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

// newBaseLogger reads ADDRLEASE_LOG_* (LEVEL, MODE, OUTPUT, ...) on top of
// structured info-level output to w.
func newBaseLogger(w io.Writer) pslog.Logger {
	return pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("ADDRLEASE_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(w),
	).With("app", "addrlease")
}

// invocationTargetsRootCommand reports whether args run the shell rather than
// a subcommand. Errors from the shell are logged; subcommand errors go to
// stderr as plain text.
func invocationTargetsRootCommand(root *cobra.Command, args []string) bool {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return true
		}
		if strings.HasPrefix(arg, "-") {
			if arg == "-c" || arg == "--config" {
				i++
			}
			continue
		}
		return !isSubcommandToken(root, arg)
	}
	return true
}

func isSubcommandToken(root *cobra.Command, token string) bool {
	for _, sub := range root.Commands() {
		if token == sub.Name() {
			return true
		}
		for _, alias := range sub.Aliases {
			if token == alias {
				return true
			}
		}
	}
	return false
}

func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := addrlease.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, addrlease.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}

	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "addrlease",
		Short:         "addrlease hands out IPv4 addresses on time-limited leases from an interactive shell",
		SilenceErrors: true,
		Example: `
  # Interactive shell with the default 60s lease
  addrlease

  # Scripted session without a prompt
  printf 'ASK\nSTATUS 0.0.0.0\n' | addrlease --prompt=false

  # Short leases, background sweeping and a Prometheus endpoint
  ADDRLEASE_LEASE_DURATION=10s addrlease --sweeper-interval 5s --metrics-listen 127.0.0.1:9464
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile(v)
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			cfg, err := bindConfig(v)
			if err != nil {
				return err
			}
			if level, ok := pslog.ParseLevel(cfg.LogLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			}
			cliLogger.Debug("welcome to addrlease", "pid", os.Getpid())

			svc, err := addrlease.NewService(cfg, addrlease.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := svc.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = svc.NewShell(cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.addrlease/"+addrlease.DefaultConfigFileName+")")

	flags := cmd.Flags()
	flags.Duration("lease-duration", addrlease.DefaultLeaseDuration, "lifetime granted by ASK and RENEW")
	flags.Uint64("scan-limit", addrlease.DefaultScanLimit, "maximum candidates examined per ASK (0 scans the whole address space)")
	flags.Duration("sweeper-interval", addrlease.DefaultSweeperInterval, "interval between background sweeps of expired leases (0 disables)")
	flags.Bool("prompt", true, "print the interactive prompt before each command")
	flags.String("metrics-listen", addrlease.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", addrlease.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Bool("enable-profiling-metrics", false, "enable Go runtime profiling metrics on the Prometheus endpoint")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.String("log-level", addrlease.DefaultLogLevel, "log level (trace, debug, info, warn, error)")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := v.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	v.SetEnvPrefix("ADDRLEASE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{
		"config",
		"lease-duration", "scan-limit", "sweeper-interval", "prompt",
		"metrics-listen", "pprof-listen", "enable-profiling-metrics", "otlp-endpoint",
		"log-level",
	} {
		bindFlag(name)
	}

	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindConfig(v *viper.Viper) (addrlease.Config, error) {
	cfg := addrlease.Config{
		LeaseDuration:          v.GetDuration("lease-duration"),
		ScanLimit:              v.GetUint64("scan-limit"),
		SweeperInterval:        v.GetDuration("sweeper-interval"),
		Prompt:                 v.GetBool("prompt"),
		MetricsListen:          v.GetString("metrics-listen"),
		PprofListen:            v.GetString("pprof-listen"),
		EnableProfilingMetrics: v.GetBool("enable-profiling-metrics"),
		OTLPEndpoint:           v.GetString("otlp-endpoint"),
		LogLevel:               v.GetString("log-level"),
	}
	if err := cfg.Validate(); err != nil {
		return addrlease.Config{}, err
	}
	return cfg, nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
