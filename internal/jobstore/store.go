package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/docqa/indexer/internal/domain"
	"github.com/docqa/indexer/internal/logger"
)

const jobFileName = "job.json"

// Store provides durable CRUD over job records. Each job lives in its own
// directory under the store root; the record itself is a single JSON file
// replaced atomically on every save so a crash between writes always
// leaves either the old or the new state on disk.
type Store struct {
	dir string
	log *logger.Logger
}

// New creates a job store rooted at dir, creating it when missing.
func New(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create jobs dir %s: %v", domain.ErrStorage, dir, err)
	}
	if log == nil {
		log = logger.Default()
	}
	return &Store{dir: dir, log: log.WithField(logger.FieldComponent, "jobstore")}, nil
}

// Dir returns the store root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create allocates a new job with every stage record pending and persists it.
// The input file list must be non-empty and every path must exist at call
// time; the job's output directory is created under the job directory.
func (s *Store) Create(name string, inputFiles []string) (*domain.Job, error) {
	if len(inputFiles) == 0 {
		return nil, fmt.Errorf("%w: at least one input file is required", domain.ErrInvalidInput)
	}
	for _, f := range inputFiles {
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("%w: input file %s: %v", domain.ErrInvalidInput, f, err)
		}
	}

	id := uuid.New().String()[:8]
	outputDir := filepath.Join(s.dir, id, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir %s: %v", domain.ErrStorage, outputDir, err)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:         id,
		Name:       name,
		Status:     domain.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		InputFiles: append([]string(nil), inputFiles...),
		OutputDir:  outputDir,
		Stages:     domain.NewStageMap(),
	}

	if err := s.Save(job); err != nil {
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		logger.FieldJobID: id,
		"name":            name,
		"files":           len(inputFiles),
	}).Info("Created job")
	return job, nil
}

// Load reads a job record from disk.
func (s *Store) Load(id string) (*domain.Job, error) {
	data, err := os.ReadFile(s.jobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: read job %s: %v", domain.ErrStorage, id, err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: decode job %s: %v", domain.ErrStorage, id, err)
	}

	// Older records may miss stage entries or metrics maps; normalize so
	// the stage map is always fully enumerable.
	if job.Stages == nil {
		job.Stages = domain.NewStageMap()
	}
	for _, stage := range domain.StageOrder {
		rec, ok := job.Stages[stage]
		if !ok {
			job.Stages[stage] = &domain.StageRecord{
				Status:  domain.StageStatusPending,
				Metrics: map[string]interface{}{},
			}
			continue
		}
		if rec.Metrics == nil {
			rec.Metrics = map[string]interface{}{}
		}
	}
	return &job, nil
}

// Save persists the job record atomically: the record is written to a
// temporary file in the job directory and renamed over the previous one.
// UpdatedAt is always refreshed here; callers never set it.
func (s *Store) Save(job *domain.Job) error {
	job.UpdatedAt = time.Now().UTC()

	jobDir := filepath.Join(s.dir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("%w: create job dir %s: %v", domain.ErrStorage, jobDir, err)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode job %s: %v", domain.ErrStorage, job.ID, err)
	}

	tmp, err := os.CreateTemp(jobDir, jobFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file for job %s: %v", domain.ErrStorage, job.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write job %s: %v", domain.ErrStorage, job.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file for job %s: %v", domain.ErrStorage, job.ID, err)
	}
	if err := os.Rename(tmpName, filepath.Join(jobDir, jobFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace job record %s: %v", domain.ErrStorage, job.ID, err)
	}
	return nil
}

// List returns job summaries ordered by creation time, most recent first.
// Individual unreadable records are skipped and logged rather than failing
// the whole listing.
func (s *Store) List() ([]domain.JobSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read jobs dir: %v", domain.ErrStorage, err)
	}

	summaries := make([]domain.JobSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := s.Load(entry.Name())
		if err != nil {
			s.log.WithField(logger.FieldJobID, entry.Name()).WithError(err).Warn("Skipping unreadable job record")
			continue
		}
		summaries = append(summaries, job.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// UpdateStage is the single mutation point for stage records. It sets the
// stage's start timestamp only on the first transition into running, merges
// metrics instead of replacing them, stamps completion, clears any earlier
// error once the stage completes, records the stage as the job's current
// stage and persists the job.
func (s *Store) UpdateStage(job *domain.Job, stage domain.StageName, status domain.StageStatus, metrics map[string]interface{}, errMsg string) error {
	rec, ok := job.Stages[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidInput, stage)
	}

	now := time.Now().UTC()
	if status == domain.StageStatusRunning && rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if status == domain.StageStatusCompleted || status == domain.StageStatusFailed {
		rec.CompletedAt = &now
	}
	rec.Status = status

	for k, v := range metrics {
		rec.Metrics[k] = v
	}
	if errMsg != "" {
		rec.Error = errMsg
	} else if status == domain.StageStatusCompleted {
		// A retried stage that finally completed should not keep the
		// error of the failed attempt.
		rec.Error = ""
	}

	stageName := stage
	job.CurrentStage = &stageName
	return s.Save(job)
}

func (s *Store) jobPath(id string) string {
	return filepath.Join(s.dir, id, jobFileName)
}
