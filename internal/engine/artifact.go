package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trawler-io/trawler/internal/model"
)

// workerConfig is the job-specific configuration artifact handed to the worker
// process. It is the tenant's scrape config plus job identity and output
// paths; the core never interprets the scraping fields.
type workerConfig struct {
	model.ScrapeConfig

	JobID        string `json:"job_id"`
	TenantID     string `json:"tenant_id"`
	Concurrent   bool   `json:"concurrent"`
	OutputDir    string `json:"output_dir"`
	LogFile      string `json:"log_file"`
	RequestDelay int    `json:"request_delay"`
	JobStartTime string `json:"job_start_time"`
	Headless     bool   `json:"headless"`
}

// Artifact file names inside a job's output directory.
const (
	ArtifactConfig = "config.json"
	ArtifactJSON   = "scraped_data.json"
	ArtifactExcel  = "scraped_data.xlsx"
	ArtifactLog    = "scraper.log"
)

// writeWorkerConfig materializes the job's config artifact in its output
// directory and returns its path. activeJobs scales the request delay so
// concurrent jobs of one tenant back off from each other.
func writeWorkerConfig(job *Job, sc *model.ScrapeConfig, activeJobs int) (string, error) {
	cfg := workerConfig{
		ScrapeConfig: *sc,
		JobID:        job.ID(),
		TenantID:     job.TenantID(),
		Concurrent:   true,
		OutputDir:    job.OutputDir(),
		LogFile:      filepath.Join(job.OutputDir(), ArtifactLog),
		RequestDelay: sc.Concurrent.BaseRequestDelay * (activeJobs + 1),
		JobStartTime: job.Snapshot().StartTime.Format(time.RFC3339),
		Headless:     true,
	}
	cfg.OutputJSON = filepath.Join(job.OutputDir(), ArtifactJSON)
	cfg.OutputExcel = filepath.Join(job.OutputDir(), ArtifactExcel)

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode worker config: %w", err)
	}

	path := filepath.Join(job.OutputDir(), ArtifactConfig)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write worker config: %w", err)
	}
	return path, nil
}
