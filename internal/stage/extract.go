package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/docqa/indexer/internal/config"
	"github.com/docqa/indexer/internal/domain"
	"github.com/docqa/indexer/internal/logger"
)

// extractOutput is the JSON record the extraction engine prints on stdout.
// Progress goes to stderr; stdout carries exactly this one document.
type extractOutput struct {
	Files map[string]map[string]interface{} `json:"files"`
	Stats map[string]interface{}            `json:"stats"`
}

// ExtractRunner drives the text-extraction engine over the job's input
// documents. The engine writes one page-tagged .txt per document into the
// output directory and reports aggregate counts on stdout.
type ExtractRunner struct {
	command []string
	timeout time.Duration
}

func NewExtractRunner(cfg config.StageCommandConfig) (*ExtractRunner, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: extraction command is not configured", domain.ErrInvalidInput)
	}
	return &ExtractRunner{
		command: cfg.Command,
		timeout: cfg.Timeout,
	}, nil
}

func (r *ExtractRunner) Run(ctx context.Context, in Inputs) (*Result, error) {
	log := logger.FromContext(ctx).WithField(logger.FieldStage, string(domain.StageOCR))

	if err := os.MkdirAll(in.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", domain.ErrStorage, err)
	}

	fileList, err := json.Marshal(in.Files)
	if err != nil {
		return nil, fmt.Errorf("encode file list: %w", err)
	}

	log.WithField("files", len(in.Files)).Info("Starting extraction")

	argv := append(append([]string(nil), r.command...), string(fileList), in.OutputDir)
	out, tail, err := runCommand(ctx, argv, "", nil, r.timeout, log)
	if err != nil {
		return nil, &domain.StageExecutionError{
			Stage:    domain.StageOCR,
			ExitCode: out.exitCode,
			Tail:     tail,
			Err:      fmt.Errorf("extraction engine: %w", err),
		}
	}

	var parsed extractOutput
	if err := json.Unmarshal([]byte(out.stdout), &parsed); err != nil {
		return nil, &domain.StageExecutionError{
			Stage: domain.StageOCR,
			Tail:  tail,
			Err:   fmt.Errorf("parse extraction results: %w", err),
		}
	}

	artifacts, err := textFiles(in.OutputDir)
	if err != nil {
		return nil, err
	}

	if parsed.Stats == nil {
		parsed.Stats = map[string]interface{}{}
	}
	log.WithField("stats", parsed.Stats).Info("Extraction complete")
	return &Result{Stats: parsed.Stats, Artifacts: artifacts}, nil
}

// textFiles lists the .txt artifacts in dir, sorted by name.
func textFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("%w: list text files: %v", domain.ErrStorage, err)
	}
	sort.Strings(matches)
	return matches, nil
}
