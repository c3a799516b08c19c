package main

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/docqa/indexer/internal/domain"
)

func sampleJob() *domain.Job {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	later := now.Add(5 * time.Minute)
	stage := domain.StageEntityExtraction

	job := &domain.Job{
		ID:           "ab12cd34",
		Name:         "annual reports",
		Status:       domain.JobStatusFailed,
		CreatedAt:    now,
		UpdatedAt:    later,
		CurrentStage: &stage,
		Stages:       domain.NewStageMap(),
		Error:        "Stage entity_extraction failed: exit status 1",
	}
	job.Stages[domain.StageOCR] = &domain.StageRecord{
		Status:      domain.StageStatusCompleted,
		StartedAt:   &now,
		CompletedAt: &later,
		Metrics:     map[string]interface{}{"total_pages": 12, "total_tables": 3},
	}
	job.Stages[domain.StageEntityExtraction] = &domain.StageRecord{
		Status:    domain.StageStatusFailed,
		StartedAt: &later,
		Metrics:   map[string]interface{}{},
		Error:     "graph engine: exit status 1",
	}
	return job
}

func TestRenderJobStatus(t *testing.T) {
	out := renderJobStatus(sampleJob())

	assert.Contains(t, out, "Job: ab12cd34 - annual reports")
	assert.Contains(t, out, "Status: failed")
	assert.Contains(t, out, "● ocr: completed")
	assert.Contains(t, out, "✗ entity_extraction: failed - graph engine: exit status 1")
	assert.Contains(t, out, "○ community_reports: pending")
	assert.Contains(t, out, "Error: Stage entity_extraction failed")
}

func TestRenderJobStatusTruncatesLongErrors(t *testing.T) {
	job := sampleJob()
	job.Stages[domain.StageEntityExtraction].Error = string(make([]byte, 200))

	out := renderJobStatus(job)
	for _, line := range []string{"entity_extraction"} {
		assert.Contains(t, out, line)
	}
	assert.Less(t, len(out), 1000)
}

func TestRenderJobStatusTruncationKeepsRunesIntact(t *testing.T) {
	job := sampleJob()
	job.Stages[domain.StageEntityExtraction].Error = strings.Repeat("模型加载失败", 20)

	out := renderJobStatus(job)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "模型加载失败")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 50))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "模型加", truncate("模型加载失败", 3))
	assert.True(t, utf8.ValidString(truncate(strings.Repeat("é", 80), 50)))
}

func TestRenderJobStats(t *testing.T) {
	out := renderJobStats(sampleJob())

	assert.Contains(t, out, "Job Statistics: ab12cd34")
	assert.Contains(t, out, "total_pages: 12")
	assert.Contains(t, out, "Started: 2026-08-20T10:00:00Z")
	assert.Contains(t, out, "Completed: 2026-08-20T10:05:00Z")
	assert.Contains(t, out, "Error: graph engine: exit status 1")
}

func TestRenderJobList(t *testing.T) {
	assert.Equal(t, "No jobs found\n", renderJobList(nil, 10))

	stage := domain.StageOCR
	jobs := []domain.JobSummary{
		{ID: "aaaa1111", Name: "first", Status: domain.JobStatusCompleted},
		{ID: "bbbb2222", Name: "second", Status: domain.JobStatusRunning, CurrentStage: &stage},
		{ID: "cccc3333", Name: "third", Status: domain.JobStatusPending},
	}

	out := renderJobList(jobs, 2)
	assert.Contains(t, out, "Jobs (3 total)")
	assert.Contains(t, out, "● aaaa1111")
	assert.Contains(t, out, "◐ bbbb2222")
	assert.Contains(t, out, "ocr")
	assert.NotContains(t, out, "cccc3333")
	assert.Contains(t, out, "... and 1 more")
}
