package model

// ConcurrentSettings controls how aggressively a tenant's jobs may run.
// MaxConcurrentJobs is the tenant's concurrency cap.
type ConcurrentSettings struct {
	MaxConcurrentJobs     int `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	BaseRequestDelay      int `json:"base_request_delay" yaml:"base_request_delay"`
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	JobSpacingDelay       int `json:"job_spacing_delay" yaml:"job_spacing_delay"`
}

// ScrapeConfig is a tenant's scraper configuration. The core never interprets
// the selector/pagination fields; they pass through to the worker process
// unmodified as part of the job config artifact.
type ScrapeConfig struct {
	BaseURL           string             `json:"base_url"`
	ContainerSelector string             `json:"container_selector"`
	Fields            map[string]string  `json:"fields"`
	Scroll            bool               `json:"scroll"`
	ScrollWait        int                `json:"scroll_wait"`
	InitialWait       int                `json:"initial_wait"`
	Paginate          bool               `json:"paginate"`
	StartPage         int                `json:"start_page"`
	MaxPages          int                `json:"max_pages"`
	NextPageSelector  string             `json:"next_page_selector"`
	PageWait          int                `json:"page_wait"`
	MaxScrollAttempts int                `json:"max_scroll_attempts"`
	LoadMoreSelector  string             `json:"load_more_selector"`
	LoadMoreWait      int                `json:"load_more_wait"`
	ScrapeSubpages    bool               `json:"scrape_subpages"`
	SubpageWait       int                `json:"subpage_wait"`
	SubpageFields     map[string]string  `json:"subpage_fields"`
	OutputJSON        string             `json:"output_json"`
	OutputExcel       string             `json:"output_excel"`
	Concurrent        ConcurrentSettings `json:"concurrent_settings"`
}

// DefaultScrapeConfig returns the base configuration handed to tenants that
// have never saved one.
func DefaultScrapeConfig() ScrapeConfig {
	return ScrapeConfig{
		Fields:            map[string]string{},
		ScrollWait:        3,
		InitialWait:       3,
		StartPage:         1,
		MaxPages:          1,
		PageWait:          2,
		MaxScrollAttempts: 20,
		LoadMoreWait:      3,
		SubpageWait:       3,
		SubpageFields:     map[string]string{},
		Concurrent: ConcurrentSettings{
			MaxConcurrentJobs:     3,
			BaseRequestDelay:      2,
			MaxConcurrentRequests: 2,
			JobSpacingDelay:       3,
		},
	}
}
