package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Queue names
const (
	QueueScheduleProcessing = "schedule-processing"
	QueuePostComment        = "post-comment"
	QueueSimulateView       = "simulate-view"
)

// Queue substrate tunables
const (
	JobLeaseDuration     = 60 * time.Second
	JobBackoffInitial    = 3 * time.Second
	TransientAttempts    = 3
	TerminalAttempts     = 1
	MaxStalledDeliveries = 2
)

// Schedule processing
const (
	ScheduleLockMin    = 10 * time.Second
	ScheduleLockMax    = time.Hour
	ScheduleLockFactor = 0.9

	MinFollowUpDelay     = time.Second
	DefaultStaggerMs     = 1500
	DispatchCeiling      = 30 * time.Second
	ScheduleErrorCeiling = 50
)

// Upstream calls
const (
	ProxyProbeTimeout    = 10 * time.Second
	BrowserNavTimeout    = 90 * time.Second
	MetadataTimeout      = 10 * time.Second
	CommentInsertQuota   = 50
	LastAccountMarkerTTL = 24 * time.Hour
	ScheduleCacheTTL     = time.Minute
)

// Background loop cadence
const (
	MaintenanceInterval    = 10 * time.Minute
	ReconciliationInterval = 30 * time.Minute
)

// Account selector weighting
const (
	SelectorBaseWeight  = 20
	UsageTrackerKeepTop = 50
)
