package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ntlm-brute/internal/authn"
	"ntlm-brute/internal/brute"
	"ntlm-brute/internal/creds"
	"ntlm-brute/internal/report"
	"ntlm-brute/internal/utils"
)

type Config struct {
	URL            string
	UsernamesFile  string
	PasswordsFile  string
	Domain         string
	Threads        int
	Throttle       time.Duration
	RateLimit      float64
	DequeueTimeout time.Duration
	Timeout        time.Duration
	Insecure       bool
	StopOnSuccess  bool
	NoBar          bool
	OutputFile     string
	Verbosity      int
}

func newLogger(w io.Writer, verbosity int) *zap.Logger {
	level := zapcore.WarnLevel
	switch {
	case verbosity >= 2:
		level = zapcore.DebugLevel
	case verbosity == 1:
		level = zapcore.InfoLevel
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if color.NoColor {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core)
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription("[cyan]Testing credentials...[reset]"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

// run executes one brute force run and reports the findings. Found pairs go
// to stdout as username:password lines, everything else to stderr.
func run(ctx context.Context, config Config, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, config.Verbosity)
	defer func() { _ = logger.Sync() }()

	target := authn.Target{URL: config.URL, Domain: config.Domain}
	source := creds.NewFileSource(config.UsernamesFile, config.PasswordsFile)

	opts := []brute.Option{brute.WithLogger(logger)}
	var bar *progressbar.ProgressBar
	if !config.NoBar {
		if users, passwords, err := source.Count(); err == nil && users*passwords > 0 {
			bar = newProgressBar(stderr, users*passwords)
			opts = append(opts, brute.WithAttemptHook(func(_ int, p creds.Pair, _ authn.Outcome, _ error) {
				bar.Describe(fmt.Sprintf("Testing %s", target.Principal(p.Username)))
				_ = bar.Add(1)
			}))
		}
	}

	coordinator := brute.NewCoordinator(brute.Config{
		Target:         target,
		PoolSize:       config.Threads,
		Throttle:       config.Throttle,
		RateLimit:      config.RateLimit,
		DequeueTimeout: config.DequeueTimeout,
		StopOnSuccess:  config.StopOnSuccess,
	}, source, authn.NewNTLM(config.Timeout, config.Insecure), opts...)

	rep, runErr := coordinator.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if rep == nil {
		return runErr
	}

	report.Print(stderr, rep, report.Options{Target: target, Insecure: config.Insecure, Verbosity: config.Verbosity})
	if err := report.WriteLines(stdout, rep.Found); err != nil {
		return err
	}
	if config.OutputFile != "" && len(rep.Found) > 0 {
		if err := report.Save(config.OutputFile, rep.Found); err != nil {
			return err
		}
	}
	return runErr
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix("NTLMBRUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(flags)
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "ntlm-brute URL USERFILE PASSFILE [DOMAIN]",
		Short: "Test username/password lists against an NTLM protected web endpoint.",
		Long: "ntlm-brute tests every username/password combination against an HTTP endpoint\n" +
			"that requires NTLM authentication, using a small pool of throttled workers.\n" +
			"Only use it against systems you are authorized to assess.",
		Args:          cobra.RangeArgs(3, 4),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			if path := v.GetString("config"); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config := Config{
				URL:            args[0],
				UsernamesFile:  args[1],
				PasswordsFile:  args[2],
				Domain:         v.GetString("domain"),
				Threads:        v.GetInt("threads"),
				Throttle:       v.GetDuration("throttle"),
				RateLimit:      v.GetFloat64("rps"),
				DequeueTimeout: v.GetDuration("dequeue-timeout"),
				Timeout:        v.GetDuration("timeout"),
				Insecure:       v.GetBool("insecure"),
				StopOnSuccess:  v.GetBool("stop-on-success"),
				NoBar:          v.GetBool("no-bar"),
				OutputFile:     v.GetString("output"),
				Verbosity:      v.GetInt("verbose"),
			}
			if len(args) == 4 {
				config.Domain = args[3]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, config, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.IntP("threads", "c", brute.DefaultPoolSize, "Number of concurrent workers.")
	flags.Duration("throttle", brute.DefaultThrottle, "How long a worker sleeps after a rejected attempt.")
	flags.Float64("rps", 0, "Maximum attempts per second across all workers (0 for unlimited).")
	flags.Duration("dequeue-timeout", brute.DefaultDequeueTimeout, "How long an idle worker waits for new credentials (0 waits until the list is exhausted).")
	flags.DurationP("timeout", "t", 10*time.Second, "Request timeout duration.")
	flags.BoolP("insecure", "k", false, "Skip SSL/TLS certificate verification.")
	flags.String("domain", "", "Domain used to qualify usernames (DOMAIN\\user). Overridden by the DOMAIN argument.")
	flags.Bool("stop-on-success", false, "Stop all workers as soon as one pair authenticates.")
	flags.Bool("no-bar", false, "Disable the progress bar.")
	flags.StringP("output", "o", "", "Append found credentials to this file as username:password lines.")
	flags.CountP("verbose", "v", "Increase log verbosity (-v info, -vv debug).")
	flags.String("config", "", "Optional config file (yaml, json or toml) providing flag values.")

	return cmd
}

func main() {
	color.Output = os.Stderr
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		var readErr *creds.SourceReadError
		if errors.As(err, &readErr) {
			utils.PrintError(color.Output, fmt.Sprintf("could not read credentials: %v", err))
		} else {
			utils.PrintError(color.Output, err.Error())
		}
		os.Exit(1)
	}
}
