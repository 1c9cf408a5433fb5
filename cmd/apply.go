package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai/gemini"
	"github.com/spigell/autoapply/internal/attempt"
	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/orchestrator"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/review"
	"github.com/spigell/autoapply/internal/secrets"
	"github.com/spigell/autoapply/internal/storage"
	"github.com/spigell/autoapply/internal/verification"
)

var errAttemptFailed = errors.New("application attempt failed")

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Fill and submit application forms for the given job postings",
	Long: `Opens every job posting in its own browser, proposes a mapping from your
profile to each form step and waits for your approval before filling and
again before submitting. Exit code is 0 when every attempt was submitted or
cleanly abandoned, 1 when any attempt failed.`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringArray("job-url", nil, "job application page (repeatable)")
	applyCmd.Flags().String("resume", "", "resume file to attach to upload fields")
	applyCmd.Flags().String("attempt", "", "resume a stored attempt by id instead of starting a new one")
	applyCmd.Flags().Float64("confidence", 0, "minimum confidence for an automatic mapping (overrides matching.minimum-confidence)")
	applyCmd.Flags().String("provider", "", "matching model provider: gemini or lexical (overrides ai.provider)")

	viper.BindPFlag("matching.minimum-confidence", applyCmd.Flags().Lookup("confidence"))
	viper.BindPFlag("ai.provider", applyCmd.Flags().Lookup("provider"))
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger()
	defer func() { _ = log.Sync() }()

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	jobURLs, _ := cmd.Flags().GetStringArray("job-url")
	resumePath, _ := cmd.Flags().GetString("resume")
	attemptID, _ := cmd.Flags().GetString("attempt")

	if err := checkApplyArgs(jobURLs, resumePath, attemptID); err != nil {
		return err
	}

	log.Info("starting autoapply", zap.String("version", version), zap.String("provider", config.AI.Provider))

	orch, closeStore, err := buildOrchestrator(ctx, config, log)
	if err != nil {
		log.Fatal("building the orchestrator", zap.Error(err))
	}
	defer closeStore()

	if attemptID != "" {
		a, err := orch.Resume(ctx, attemptID)
		if errors.Is(err, orchestrator.ErrAlreadyCompleted) {
			log.Info("nothing to resume", zap.String(logger.FieldAttemptID, attemptID), zap.String("reason", "attempt already completed"))
			return nil
		}
		report(log, []*attempt.Attempt{a})
		if err != nil {
			return fmt.Errorf("%w: %w", errAttemptFailed, err)
		}
		return nil
	}

	jobs := make([]orchestrator.Job, 0, len(jobURLs))
	for _, u := range jobURLs {
		jobs = append(jobs, orchestrator.Job{URL: u, ResumePath: resumePath})
	}

	results, err := orch.RunAll(ctx, jobs)
	report(log, results)
	if err != nil {
		return fmt.Errorf("%w: %w", errAttemptFailed, err)
	}
	return nil
}

func checkApplyArgs(jobURLs []string, resumePath, attemptID string) error {
	switch {
	case attemptID != "" && len(jobURLs) > 0:
		return errors.New("--attempt and --job-url are mutually exclusive")
	case attemptID == "" && len(jobURLs) == 0:
		return errors.New("at least one --job-url or an --attempt is required")
	case attemptID == "" && resumePath == "":
		return errors.New("--resume is required for new attempts")
	}
	if resumePath != "" {
		info, err := os.Stat(resumePath)
		if err != nil {
			return fmt.Errorf("resume file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("resume file %q is a directory", resumePath)
		}
	}
	return nil
}

func buildOrchestrator(ctx context.Context, config *Config, log *zap.Logger) (*orchestrator.Orchestrator, func(), error) {
	prof, err := profile.Load(config.Profile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading profile (run extract first): %w", err)
	}

	scorer, err := newScorer(ctx, config.AI, log)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(ctx, config.Store)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn("closing attempt store", zap.Error(err))
		}
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Profile:  prof,
		Launcher: browser.NewLauncher(config.Browser, log.Named("browser")),
		Matcher:  matching.New(scorer, config.Matching, log.Named("matching")),
		Driver:   fill.New(config.Fill, log.Named("fill")),
		Gate:     verification.NewGate(review.NewTerminal(), config.Verification.Timeout, log.Named("verification")),
		Store:    store,
		Policy:   config.Verification,
		Logger:   log,
	}, config.Orchestrator)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return orch, closeStore, nil
}

func newScorer(ctx context.Context, cfg AIConfig, log *zap.Logger) (matching.Scorer, error) {
	if cfg.Provider == providerLexical {
		return matching.LexicalScorer{}, nil
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file, GEMINI_API_KEY or use --provider lexical)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries)
	if err != nil {
		return nil, err
	}

	return gemini.NewScorer(generator, log, cfg.Gemini.RequestsPerSecond, cfg.Gemini.MaxLogLength), nil
}

func report(log *zap.Logger, attempts []*attempt.Attempt) {
	for _, a := range attempts {
		if a == nil {
			continue
		}
		fields := append(logger.AttemptFields(a.ID, a.JobURL),
			zap.String("status", string(a.Status)),
			zap.Int("completed_steps", a.CompletedSteps()),
		)
		if a.Error != "" {
			fields = append(fields, zap.String("error", a.Error))
		}
		if a.Status == attempt.Failed {
			log.Error("attempt finished", append(fields, zap.String("hint", "rerun with --attempt "+a.ID+" to resume"))...)
			continue
		}
		log.Info("attempt finished", fields...)
	}
}
