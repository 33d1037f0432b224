package auth

import "github.com/quorumlabs/marketforge/internal/domain"

// Worker report permissions, one per pipeline stage endpoint.
const (
	PermReportCandidates = "candidates.report"
	PermReportDrafts     = "drafts.report"
	PermReportValidation = "validations.report"
	PermReportPublished  = "markets.published.report"
	PermReportResolution = "resolutions.report"
	PermReviewDisputes   = "disputes.review.report"
	PermRunMaintenance   = "maintenance.run"
)

// DefaultWorkerPermissions returns the permission set minted into a new API
// key for the given worker type. Each type may call only the report
// endpoints matching its stage.
func DefaultWorkerPermissions(t domain.WorkerType) []string {
	switch t {
	case domain.WorkerCrawler:
		return nil // publishes to news.raw via the broker, no report endpoint
	case domain.WorkerExtractor:
		return []string{PermReportCandidates}
	case domain.WorkerGenerator:
		return []string{PermReportDrafts}
	case domain.WorkerValidator:
		return []string{PermReportValidation}
	case domain.WorkerPublisher:
		return []string{PermReportPublished}
	case domain.WorkerResolver:
		return []string{PermReportResolution}
	case domain.WorkerDisputeAgent:
		return []string{PermReviewDisputes}
	case domain.WorkerScheduler:
		return []string{PermRunMaintenance}
	}
	return nil
}
