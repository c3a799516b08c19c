package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/docqa/indexer/internal/config"
	"github.com/docqa/indexer/internal/domain"
	"github.com/docqa/indexer/internal/logger"
)

// GraphKind selects which slice of the graph-index engine's workflow set a
// runner executes.
type GraphKind string

const (
	GraphKindEntity    GraphKind = "entity"
	GraphKindCommunity GraphKind = "community"
	GraphKindEmbedding GraphKind = "embedding"
)

// Engine workflow names per kind. Embedding vectors are produced inside the
// entity workflows, so the embedding kind has no workflows of its own.
var graphWorkflows = map[GraphKind][]string{
	GraphKindEntity: {
		"create_base_text_units",
		"create_base_extracted_entities",
		"create_summarized_entities",
		"create_base_entity_graph",
		"create_final_entities",
		"create_final_nodes",
		"create_final_communities",
		"create_final_relationships",
		"create_final_text_units",
	},
	GraphKindCommunity: {
		"create_final_community_reports",
	},
	GraphKindEmbedding: {},
}

// Parquet artifacts to count rows in, keyed by stat name. Later filenames
// are intermediate fallbacks for when the final one is missing.
var graphArtifacts = map[string][]string{
	"entities":          {"create_final_entities.parquet", "create_base_extracted_entities.parquet"},
	"relationships":     {"create_final_relationships.parquet"},
	"text_units":        {"create_final_text_units.parquet", "create_base_text_units.parquet"},
	"communities":       {"create_final_communities.parquet"},
	"community_reports": {"create_final_community_reports.parquet"},
}

// Model names baked into the generated engine settings. The entity model
// sits behind an OpenAI-compatible adapter; the other two are served direct.
const (
	entityModel = "LiquidAI/LFM2-1.2B-Extract"
	chatModel   = "Qwen/Qwen2.5-7B-Instruct"
	embedModel  = "BAAI/bge-m3"
)

func stageNameFor(kind GraphKind) domain.StageName {
	switch kind {
	case GraphKindEntity:
		return domain.StageEntityExtraction
	case GraphKindCommunity:
		return domain.StageCommunityReports
	default:
		return domain.StageEmbeddings
	}
}

// GraphRunner drives the graph-index engine CLI for one pipeline stage. The
// engine is configured entirely through a generated settings.yaml inside its
// working root; the runner prepares that root, copies the text inputs in and
// collects row counts from the parquet artifacts afterwards.
type GraphRunner struct {
	kind  GraphKind
	stage domain.StageName
	cfg   config.GraphStageConfig
}

func NewGraphRunner(kind GraphKind, cfg config.GraphStageConfig) (*GraphRunner, error) {
	if len(graphWorkflows[kind]) > 0 && len(cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: graph engine command is not configured", domain.ErrInvalidInput)
	}
	return &GraphRunner{
		kind:  kind,
		stage: stageNameFor(kind),
		cfg:   cfg,
	}, nil
}

func (r *GraphRunner) Run(ctx context.Context, in Inputs) (*Result, error) {
	log := logger.FromContext(ctx).WithField(logger.FieldStage, string(r.stage))

	workflows := graphWorkflows[r.kind]
	if len(workflows) == 0 {
		log.Info("No standalone workflows for this stage, nothing to run")
		return &Result{Stats: map[string]interface{}{}}, nil
	}

	root := filepath.Join(in.OutputDir, "graphrag")
	inputDir := filepath.Join(root, "input")
	outputDir := filepath.Join(root, "output")
	for _, dir := range []string{root, inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", domain.ErrStorage, dir, err)
		}
	}

	if err := copyTextInputs(in.InputDir, inputDir); err != nil {
		return nil, err
	}

	// The stages share one engine root but route to different tenants, so
	// the settings are rewritten for every run; a file left by the previous
	// stage would point the engine at a tenant that is now stopped.
	if err := r.writeSettings(filepath.Join(root, "settings.yaml")); err != nil {
		return nil, err
	}

	log.WithField("workflows", len(workflows)).Info("Running graph indexing")

	argv := append(append([]string(nil), r.cfg.Command...), "--root", root)
	env := []string{"GRAPHRAG_API_KEY=" + r.cfg.APIKey}
	out, tail, err := runCommand(ctx, argv, root, env, r.cfg.Timeout, log)
	if err != nil {
		return nil, &domain.StageExecutionError{
			Stage:    r.stage,
			ExitCode: out.exitCode,
			Tail:     tail,
			Err:      fmt.Errorf("graph engine: %w", err),
		}
	}

	stats, artifacts := gatherArtifactStats(outputDir, log)
	log.WithField("stats", stats).Info("Graph indexing complete")
	return &Result{Stats: stats, Artifacts: artifacts}, nil
}

// writeSettings renders the engine configuration for this stage: shared
// chunking and input layout, plus the per-stage LLM endpoint.
func (r *GraphRunner) writeSettings(path string) error {
	settings := map[string]interface{}{
		"encoding_model": "cl100k_base",
		"skip_workflows": []string{},
		"chunks": map[string]interface{}{
			"size":             256,
			"overlap":          50,
			"group_by_columns": []string{"id"},
			"strategy": map[string]interface{}{
				"type":          "sentence",
				"chunk_size":    256,
				"chunk_overlap": 50,
			},
		},
		"input": map[string]interface{}{
			"type":         "file",
			"file_type":    "text",
			"base_dir":     "input",
			"file_pattern": `.*\.txt$`,
		},
		"parallelization": map[string]interface{}{
			"stagger":     0.1,
			"num_threads": 50,
		},
		"async_mode": "threaded",
	}

	llm := func(base, model string, maxTokens, concurrent int) map[string]interface{} {
		return map[string]interface{}{
			"api_key":             r.cfg.APIKey,
			"type":                "openai_chat",
			"api_base":            base,
			"model":               model,
			"model_supports_json": true,
			"request_timeout":     300.0,
			"concurrent_requests": concurrent,
			"max_tokens":          maxTokens,
		}
	}

	switch r.kind {
	case GraphKindEntity:
		settings["llm"] = llm(r.cfg.EntityBase, entityModel, 2000, 50)
		settings["entity_extraction"] = map[string]interface{}{
			"llm": llm(r.cfg.EntityBase, entityModel, 2000, 50),
			"parallelization": map[string]interface{}{
				"stagger":     0.1,
				"num_threads": 50,
			},
		}
		settings["summarize_descriptions"] = map[string]interface{}{
			"llm": llm(r.cfg.ChatBase, chatModel, 1000, 25),
		}
	case GraphKindCommunity:
		settings["llm"] = llm(r.cfg.ChatBase, chatModel, 2000, 25)
		settings["community_reports"] = map[string]interface{}{
			"llm": llm(r.cfg.ChatBase, chatModel, 2000, 25),
		}
	}

	settings["embeddings"] = map[string]interface{}{
		"async_mode": "threaded",
		"llm": map[string]interface{}{
			"api_base":            r.cfg.EmbedBase,
			"api_key":             r.cfg.APIKey,
			"model":               embedModel,
			"type":                "openai_embedding",
			"concurrent_requests": 25,
		},
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode engine settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorage, path, err)
	}
	return nil
}

func copyTextInputs(from, to string) error {
	files, err := textFiles(from)
	if err != nil {
		return err
	}
	for _, src := range files {
		dst := filepath.Join(to, filepath.Base(src))
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("%w: copy %s: %v", domain.ErrStorage, src, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// gatherArtifactStats counts rows in the engine's parquet artifacts. A
// missing or unreadable artifact counts as zero; stats are informational and
// never fail the stage.
func gatherArtifactStats(outputDir string, log *logger.Logger) (map[string]interface{}, []string) {
	stats := make(map[string]interface{}, len(graphArtifacts))
	var artifacts []string

	for name, filenames := range graphArtifacts {
		stats[name] = 0
		for _, filename := range filenames {
			path := filepath.Join(outputDir, filename)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			rows, err := parquetRowCount(path)
			if err != nil {
				log.WithField("artifact", filename).WithError(err).Warn("Could not read artifact")
				break
			}
			stats[name] = rows
			artifacts = append(artifacts, path)
			break
		}
	}
	return stats, artifacts
}

func parquetRowCount(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return 0, err
	}
	return pf.NumRows(), nil
}
