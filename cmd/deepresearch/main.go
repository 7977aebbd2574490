// Command deepresearch answers a question by running the research
// agent loop against the configured model and search providers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deepresearch/internal/agent"
	"deepresearch/internal/config"
	"deepresearch/internal/fetch"
	"deepresearch/internal/llm"
	"deepresearch/internal/sandbox"
	"deepresearch/internal/schema"
	"deepresearch/internal/search"
	"deepresearch/internal/trackers"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath     string
	tokenBudget    int
	maxBadAttempts int
	noDirectAnswer bool
	numURLs        int
	artifactDir    string
	verbose        bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "deepresearch [question]",
		Short: "Answer a question through iterative search, reading and reasoning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, args[0])
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.json", "path to config.json")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().IntVar(&flags.tokenBudget, "token-budget", 1_000_000, "maximum total tokens for the run")
	cmd.Flags().IntVar(&flags.maxBadAttempts, "max-bad-attempts", 3, "rejected answers tolerated before the final forced answer")
	cmd.Flags().BoolVar(&flags.noDirectAnswer, "no-direct-answer", false, "disallow reference-free answers on the first step")
	cmd.Flags().IntVar(&flags.numURLs, "num-urls", 100, "maximum visited URLs returned with the answer")
	cmd.Flags().StringVar(&flags.artifactDir, "artifacts", "", "directory for per-step debug artifacts (disabled when empty)")

	cmd.AddCommand(newConfigCmd(flags))
	return cmd
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cfg.Summary(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func run(ctx context.Context, flags *rootFlags, question string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(flags.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	client, err := llm.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tokens := trackers.NewTokenTracker(flags.tokenBudget)
	actions := trackers.NewActionTracker()
	gen := llm.NewSafeGenerator(client, tokens, logger)
	registry := schema.NewRegistry()

	searcher, err := search.New(cfg, logger)
	if err != nil {
		return err
	}

	a := agent.New(agent.Deps{
		Generator: gen,
		Search:    searcher,
		Fetcher:   fetch.New(cfg.HTTPClient(), logger),
		Solver:    sandbox.New(gen, registry, logger),
		Registry:  registry,
		Tokens:    tokens,
		Actions:   actions,
		Logger:    logger,
	}, agent.Options{
		TokenBudget:     flags.tokenBudget,
		MaxBadAttempts:  flags.maxBadAttempts,
		NoDirectAnswer:  flags.noDirectAnswer,
		NumReturnedURLs: flags.numURLs,
		StepSleep:       time.Duration(cfg.StepSleepMS) * time.Millisecond,
		ArtifactDir:     flags.artifactDir,
	})

	resp, err := a.Run(ctx, question, nil)
	if err != nil {
		return err
	}

	answer := resp.Result.MDAnswer
	if answer == "" {
		answer = resp.Result.Answer
	}
	fmt.Println(answer)

	if flags.verbose {
		usage := tokens.TotalUsage()
		logger.Info("run finished",
			zap.Bool("isFinal", resp.Result.IsFinal),
			zap.Int("totalTokens", usage.TotalTokens),
			zap.Int("readURLs", len(resp.ReadURLs)),
			zap.Any("breakdown", tokens.UsageBreakdown()))
	}
	return nil
}
