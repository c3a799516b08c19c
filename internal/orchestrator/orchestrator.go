package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/docqa/indexer/internal/config"
	"github.com/docqa/indexer/internal/domain"
	"github.com/docqa/indexer/internal/jobstore"
	"github.com/docqa/indexer/internal/logger"
	"github.com/docqa/indexer/internal/stage"
)

// stageTenants maps each stage to the tenants that must be the sole GPU
// occupants while it runs. The extraction stage loads its own model in the
// child process and needs the whole GPU to itself.
var stageTenants = map[domain.StageName][]string{
	domain.StageOCR:              {},
	domain.StageEntityExtraction: {"entity", "embed"},
	domain.StageCommunityReports: {"chat"},
	domain.StageEmbeddings:       {"embed"},
}

// ResourceManager is the slice of the resource controller the orchestrator
// drives. Nothing else in the system may transition tenants.
type ResourceManager interface {
	EnsureOnly(ctx context.Context, required []string, timeout time.Duration) error
	StartBudget(names []string) time.Duration
}

// Orchestrator executes one job's stages in fixed order, arbitrating GPU
// tenancy before each stage and persisting progress after every transition.
// It runs a single job at a time; there is no stage parallelism because
// every stage contends for the same GPU.
type Orchestrator struct {
	store     *jobstore.Store
	resources ResourceManager
	runners   map[domain.StageName]stage.Runner
	log       *logger.Logger
}

func New(store *jobstore.Store, resources ResourceManager, runners map[domain.StageName]stage.Runner, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	return &Orchestrator{
		store:     store,
		resources: resources,
		runners:   runners,
		log:       log.WithField(logger.FieldComponent, "orchestrator"),
	}
}

// NewRunners builds the production stage runner set from config.
func NewRunners(cfg config.StagesConfig) (map[domain.StageName]stage.Runner, error) {
	extract, err := stage.NewExtractRunner(cfg.Extract)
	if err != nil {
		return nil, err
	}
	runners := map[domain.StageName]stage.Runner{domain.StageOCR: extract}
	for st, kind := range map[domain.StageName]stage.GraphKind{
		domain.StageEntityExtraction: stage.GraphKindEntity,
		domain.StageCommunityReports: stage.GraphKindCommunity,
		domain.StageEmbeddings:       stage.GraphKindEmbedding,
	} {
		runner, err := stage.NewGraphRunner(kind, cfg.Graph)
		if err != nil {
			return nil, err
		}
		runners[st] = runner
	}
	return runners, nil
}

// Run executes or resumes the job. With an empty resumeFrom the starting
// stage is the first non-completed one; a fully completed job is a no-op.
// With an empty stopAfter the pipeline runs to the end. A stage failure
// marks the stage and the job failed and halts; re-running the job later
// resumes at the failed stage.
func (o *Orchestrator) Run(ctx context.Context, jobID string, resumeFrom, stopAfter domain.StageName) (*domain.Job, error) {
	job, err := o.store.Load(jobID)
	if err != nil {
		return nil, err
	}

	// Everything below logs through the context so the controller and the
	// runners pick up the job and stage fields automatically.
	ctx = o.log.WithField(logger.FieldJobID, job.ID).WithContext(ctx)
	log := logger.FromContext(ctx)

	startIdx := 0
	if resumeFrom != "" {
		if !domain.ValidStage(resumeFrom) {
			return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidInput, resumeFrom)
		}
		startIdx = domain.StageIndex(resumeFrom)
		log.WithField(logger.FieldStage, string(resumeFrom)).Info("Resuming from requested stage")
	} else {
		resume, ok := job.ResumePoint()
		if !ok {
			log.Info("Job already complete")
			return job, nil
		}
		startIdx = domain.StageIndex(resume)
		log.WithField(logger.FieldStage, string(resume)).Info("Auto-resuming")
	}

	stopIdx := len(domain.StageOrder) - 1
	if stopAfter != "" {
		if !domain.ValidStage(stopAfter) {
			return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidInput, stopAfter)
		}
		stopIdx = domain.StageIndex(stopAfter)
	}
	if stopIdx < startIdx {
		return nil, fmt.Errorf("%w: stop stage %q precedes start stage %q",
			domain.ErrInvalidInput, domain.StageOrder[stopIdx], domain.StageOrder[startIdx])
	}

	job.Status = domain.JobStatusRunning
	job.Error = ""
	if err := o.store.Save(job); err != nil {
		return nil, err
	}

	for i := startIdx; i <= stopIdx; i++ {
		// Cancellation is cooperative and only takes effect between
		// stages; a running engine is never killed mid-flight from here.
		select {
		case <-ctx.Done():
			job.Status = domain.JobStatusFailed
			job.Error = fmt.Sprintf("run canceled: %v", ctx.Err())
			if saveErr := o.store.Save(job); saveErr != nil {
				log.WithError(saveErr).Error("Failed to persist canceled job")
			}
			return job, ctx.Err()
		default:
		}

		st := domain.StageOrder[i]
		if err := o.runStage(ctx, job, st); err != nil {
			log.WithField(logger.FieldStage, string(st)).WithError(err).Error("Stage failed")
			job.Status = domain.JobStatusFailed
			job.Error = fmt.Sprintf("Stage %s failed: %v", st, err)
			if saveErr := o.store.Save(job); saveErr != nil {
				log.WithError(saveErr).Error("Failed to persist failed job")
			}
			return job, err
		}
	}

	// With a stop-after bound the job may legitimately end mid-pipeline;
	// completed is reserved for all four stages done.
	if _, remaining := job.ResumePoint(); remaining {
		job.Status = domain.JobStatusPending
	} else {
		job.Status = domain.JobStatusCompleted
		log.Info("Job completed")
	}
	if err := o.store.Save(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) runStage(ctx context.Context, job *domain.Job, st domain.StageName) error {
	ctx = logger.SetStage(ctx, string(st))
	log := logger.FromContext(ctx)
	log.Info("Starting stage")

	if err := o.store.UpdateStage(job, st, domain.StageStatusRunning, nil, ""); err != nil {
		return err
	}

	tenants := stageTenants[st]
	if err := o.resources.EnsureOnly(ctx, tenants, o.resources.StartBudget(tenants)); err != nil {
		if updErr := o.store.UpdateStage(job, st, domain.StageStatusFailed, nil, err.Error()); updErr != nil {
			log.WithError(updErr).Error("Failed to persist stage failure")
		}
		return err
	}

	runner, ok := o.runners[st]
	if !ok {
		err := fmt.Errorf("no runner for stage %s", st)
		if updErr := o.store.UpdateStage(job, st, domain.StageStatusFailed, nil, err.Error()); updErr != nil {
			log.WithError(updErr).Error("Failed to persist stage failure")
		}
		return err
	}

	res, err := runner.Run(ctx, o.stageInputs(job, st))
	if err != nil {
		if updErr := o.store.UpdateStage(job, st, domain.StageStatusFailed, nil, err.Error()); updErr != nil {
			log.WithError(updErr).Error("Failed to persist stage failure")
		}
		return err
	}

	if err := o.store.UpdateStage(job, st, domain.StageStatusCompleted, res.Stats, ""); err != nil {
		return err
	}
	log.WithField("stats", res.Stats).Info("Completed stage")
	return nil
}

// stageInputs wires the stage data flow: extraction writes page-tagged text
// under <output>/text, the graph stages read it from there and build their
// engine root under the job output directory.
func (o *Orchestrator) stageInputs(job *domain.Job, st domain.StageName) stage.Inputs {
	textDir := filepath.Join(job.OutputDir, "text")
	if st == domain.StageOCR {
		return stage.Inputs{
			Files:     job.InputFiles,
			OutputDir: textDir,
		}
	}
	return stage.Inputs{
		InputDir:  textDir,
		OutputDir: job.OutputDir,
	}
}
