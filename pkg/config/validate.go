package config

import (
	"fmt"
	"time"

	"policycrawl/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// ListenAddr
	if c.ListenAddr == "" {
		warnings = append(warnings, "listen_addr is empty, defaulting to ':8080'")
		c.ListenAddr = ":8080"
	}

	// UserAgent
	if c.UserAgent == "" {
		c.UserAgent = "PolicyCrawl/1.0 (+https://policycrawl.example)"
	}

	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	// DelayPerHost
	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, setting to 0")
		c.DelayPerHost = 0
	}
	if c.DelayPerHost == 0 {
		c.DelayPerHost = 500 * time.Millisecond
	}

	// StorageDir
	if c.StorageDir == "" {
		warnings = append(warnings, "storage_dir is empty, defaulting to './crawl_state'")
		c.StorageDir = "./crawl_state"
	}

	// FilesDir
	if c.FilesDir == "" {
		warnings = append(warnings, "files_dir is empty, defaulting to './downloads'")
		c.FilesDir = "./downloads"
	}

	// MaxConcurrentCrawls
	if c.MaxConcurrentCrawls <= 0 {
		warnings = append(warnings, "max_concurrent_crawls should be > 0, defaulting to 3")
		c.MaxConcurrentCrawls = 3
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// Crawl limits
	crawlWarnings, err := c.Crawl.validate()
	warnings = append(warnings, crawlWarnings...)
	if err != nil {
		return warnings, err
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil
}

func (l *CrawlLimits) validate() (warnings []string, err error) {
	if l.DefaultMaxPages <= 0 {
		l.DefaultMaxPages = 50
	}
	if l.MaxPagesCeiling <= 0 {
		l.MaxPagesCeiling = 500
	}
	if l.DefaultMaxPages > l.MaxPagesCeiling {
		warnings = append(warnings, fmt.Sprintf(
			"default_max_pages (%d) > max_pages_ceiling (%d), clamping default",
			l.DefaultMaxPages, l.MaxPagesCeiling))
		l.DefaultMaxPages = l.MaxPagesCeiling
	}

	if l.DefaultMaxDuration <= 0 {
		l.DefaultMaxDuration = 10 * time.Minute
	}
	if l.MaxDurationCeiling <= 0 {
		l.MaxDurationCeiling = 30 * time.Minute
	}
	if l.DefaultMaxDuration > l.MaxDurationCeiling {
		warnings = append(warnings, fmt.Sprintf(
			"default_max_duration (%v) > max_duration_ceiling (%v), clamping default",
			l.DefaultMaxDuration, l.MaxDurationCeiling))
		l.DefaultMaxDuration = l.MaxDurationCeiling
	}

	if l.MaxPageSizeBytes <= 0 {
		l.MaxPageSizeBytes = 5 << 20 // 5 MiB of HTML is plenty
	}
	if l.MaxFileSizeBytes <= 0 {
		l.MaxFileSizeBytes = 50 << 20
	}
	if l.DownloadTimeout <= 0 {
		l.DownloadTimeout = 2 * time.Minute
	}
	if l.HeadProbesPerPage < 0 {
		warnings = append(warnings, "head_probes_per_page cannot be negative, setting to 0")
		l.HeadProbesPerPage = 0
	}
	if l.HeadProbesPerPage == 0 {
		l.HeadProbesPerPage = 25
	}

	if l.ConfidenceThreshold < 0 || l.ConfidenceThreshold > 1 {
		warnings = append(warnings, fmt.Sprintf(
			"confidence_threshold (%v) out of [0,1], defaulting to 0.85", l.ConfidenceThreshold))
		l.ConfidenceThreshold = 0
	}
	if l.ConfidenceThreshold == 0 {
		l.ConfidenceThreshold = 0.85
	}

	// Exclude patterns must compile; a typo here should fail startup, not
	// silently skip nothing.
	if _, err := utils.CompileRegexPatterns(l.ExcludeURLPatterns); err != nil {
		return warnings, err
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
