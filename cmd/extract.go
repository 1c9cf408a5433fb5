package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/utils"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Build the profile from a resume export",
	Long: `Runs the configured extractor (extract.command) on --pdf-path and stores the
normalized profile it prints. With --from an already normalized JSON or YAML
export is imported instead.`,
	Run: func(cmd *cobra.Command, _ []string) {
		log := newLogger()

		config, err := getConfig()
		if err != nil {
			log.Fatal("getting a config", zap.Error(err))
		}

		pdfPath, _ := cmd.Flags().GetString("pdf-path")
		from, _ := cmd.Flags().GetString("from")

		p, err := extractProfile(cmd.Context(), config.Extract, pdfPath, from, log)
		if err != nil {
			log.Fatal("extracting the profile", zap.Error(err))
		}

		if err := writeProfile(p, config.Profile); err != nil {
			log.Fatal("writing the profile", zap.Error(err))
		}

		log.Info("profile stored",
			zap.String("path", config.Profile),
			zap.Int("attributes", len(p.List())),
			zap.String("schema_version", p.Version()),
		)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().String("pdf-path", "", "resume PDF handed to the extractor")
	extractCmd.Flags().String("from", "", "normalized profile export (json or yaml) to import")
}

func extractProfile(ctx context.Context, cfg ExtractConfig, pdfPath, from string, log *zap.Logger) (*profile.Profile, error) {
	switch {
	case from != "" && pdfPath != "":
		return nil, errors.New("--pdf-path and --from are mutually exclusive")
	case from != "":
		return profile.Load(from)
	case pdfPath == "":
		return nil, errors.New("--pdf-path or --from is required")
	case len(cfg.Command) == 0:
		return nil, errors.New("extract.command is not configured (or import an export with --from)")
	}

	if _, err := os.Stat(pdfPath); err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	args := append(append([]string{}, cfg.Command[1:]...), pdfPath)
	run := exec.CommandContext(ctx, cfg.Command[0], args...)
	var stdout, stderr bytes.Buffer
	run.Stdout, run.Stderr = &stdout, &stderr

	log.Info("running extractor", zap.Strings("command", cfg.Command), zap.String("pdf", pdfPath))
	if err := run.Run(); err != nil {
		return nil, fmt.Errorf("extractor %s: %w: %s", cfg.Command[0], err, utils.TruncateForLog(strings.TrimSpace(stderr.String()), 500))
	}
	log.Debug("extractor output", zap.String("stdout", utils.TruncateForLog(stdout.String(), 500)))

	p, err := profile.Parse(stdout.Bytes(), profile.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("extractor output: %w", err)
	}
	return p, nil
}

func writeProfile(p *profile.Profile, path string) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}
	// Written through a temp file so a failed run keeps the old profile.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return os.Rename(tmp, path)
}
