package domain

import "time"

// JobStatus represents the overall status of an indexing job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// StageStatus represents the status of a single pipeline stage.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageName identifies one of the fixed pipeline stages.
type StageName string

const (
	StageOCR              StageName = "ocr"
	StageEntityExtraction StageName = "entity_extraction"
	StageCommunityReports StageName = "community_reports"
	StageEmbeddings       StageName = "embeddings"
)

// StageOrder is the fixed execution order of the pipeline. Stages contend
// for the same GPU budget, so there is no branching and no parallelism.
var StageOrder = []StageName{
	StageOCR,
	StageEntityExtraction,
	StageCommunityReports,
	StageEmbeddings,
}

// ValidStage reports whether name is one of the fixed pipeline stages.
func ValidStage(name StageName) bool {
	for _, s := range StageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// StageIndex returns the position of name in StageOrder, or -1.
func StageIndex(name StageName) int {
	for i, s := range StageOrder {
		if s == name {
			return i
		}
	}
	return -1
}

// StageRecord tracks per-stage progress for one job.
type StageRecord struct {
	Status      StageStatus            `json:"status"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Metrics     map[string]interface{} `json:"metrics"`
	Error       string                 `json:"error,omitempty"`
}

// Job represents one indexing job and its durable state.
type Job struct {
	ID           string                     `json:"job_id"`
	Name         string                     `json:"name"`
	Status       JobStatus                  `json:"status"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
	InputFiles   []string                   `json:"input_files"`
	OutputDir    string                     `json:"output_dir"`
	CurrentStage *StageName                 `json:"current_stage"`
	Stages       map[StageName]*StageRecord `json:"stages"`
	Error        string                     `json:"error,omitempty"`
}

// JobSummary is the listing view of a job.
type JobSummary struct {
	ID           string     `json:"job_id"`
	Name         string     `json:"name"`
	Status       JobStatus  `json:"status"`
	CurrentStage *StageName `json:"current_stage"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewStageMap returns a stage map with every stage present and pending.
// The map is always fully populated so callers never nil-check for a
// missing stage record.
func NewStageMap() map[StageName]*StageRecord {
	stages := make(map[StageName]*StageRecord, len(StageOrder))
	for _, s := range StageOrder {
		stages[s] = &StageRecord{
			Status:  StageStatusPending,
			Metrics: map[string]interface{}{},
		}
	}
	return stages
}

// ResumePoint returns the first stage, in fixed order, whose status is not
// completed. A stage left running by a crash is re-executed from scratch.
// ok is false when every stage has completed.
func (j *Job) ResumePoint() (stage StageName, ok bool) {
	for _, s := range StageOrder {
		if j.Stages[s].Status != StageStatusCompleted {
			return s, true
		}
	}
	return "", false
}

// Summary returns the listing view of the job.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:           j.ID,
		Name:         j.Name,
		Status:       j.Status,
		CurrentStage: j.CurrentStage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}
