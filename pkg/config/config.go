package config

import "time"

// AppConfig holds the global service configuration
type AppConfig struct {
	ListenAddr          string        `yaml:"listen_addr"`
	UserAgent           string        `yaml:"user_agent"`
	DelayPerHost        time.Duration `yaml:"delay_per_host,omitempty"`
	NumWorkers          int           `yaml:"num_workers"`
	MaxRequests         int           `yaml:"max_requests"`
	MaxRequestsPerHost  int           `yaml:"max_requests_per_host"`
	StorageDir          string        `yaml:"storage_dir"`
	FilesDir            string        `yaml:"files_dir"`
	MaxConcurrentCrawls int           `yaml:"max_concurrent_crawls"`

	MaxRetries              int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay       time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration `yaml:"max_retry_delay,omitempty"`
	SemaphoreAcquireTimeout time.Duration `yaml:"semaphore_acquire_timeout,omitempty"`

	Crawl              CrawlLimits      `yaml:"crawl,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// CrawlLimits bounds what a single crawl session may request and consume.
type CrawlLimits struct {
	DefaultMaxPages     int           `yaml:"default_max_pages,omitempty"`
	MaxPagesCeiling     int           `yaml:"max_pages_ceiling,omitempty"`
	DefaultMaxDuration  time.Duration `yaml:"default_max_duration,omitempty"`
	MaxDurationCeiling  time.Duration `yaml:"max_duration_ceiling,omitempty"`
	MaxPageSizeBytes    int64         `yaml:"max_page_size_bytes,omitempty"`
	MaxFileSizeBytes    int64         `yaml:"max_file_size_bytes,omitempty"`
	DownloadTimeout     time.Duration `yaml:"download_timeout,omitempty"`
	HeadProbesPerPage   int           `yaml:"head_probes_per_page,omitempty"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold,omitempty"`
	ExcludeURLPatterns  []string      `yaml:"exclude_url_patterns,omitempty"` // Regex patterns for URLs to skip
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}
