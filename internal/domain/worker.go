package domain

import "time"

// WorkerType is the closed enumeration of pipeline worker roles. Each role is
// permitted to call only the report endpoints matching its stage.
type WorkerType string

const (
	WorkerCrawler      WorkerType = "crawler"
	WorkerExtractor    WorkerType = "extractor"
	WorkerGenerator    WorkerType = "generator"
	WorkerValidator    WorkerType = "validator"
	WorkerPublisher    WorkerType = "publisher"
	WorkerResolver     WorkerType = "resolver"
	WorkerDisputeAgent WorkerType = "dispute_agent"
	WorkerScheduler    WorkerType = "scheduler"
)

// AllWorkerTypes lists every recognized worker type.
var AllWorkerTypes = []WorkerType{
	WorkerCrawler,
	WorkerExtractor,
	WorkerGenerator,
	WorkerValidator,
	WorkerPublisher,
	WorkerResolver,
	WorkerDisputeAgent,
	WorkerScheduler,
}

// Valid reports whether t is a recognized worker type.
func (t WorkerType) Valid() bool {
	for _, wt := range AllWorkerTypes {
		if t == wt {
			return true
		}
	}
	return false
}

// WorkerKey is a long-lived API credential a worker exchanges for a
// short-lived JWT. The key itself is stored only as a one-way digest.
type WorkerKey struct {
	ID          string
	WorkerType  WorkerType
	KeyDigest   string
	Salt        string
	Permissions []string
	Disabled    bool
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}
