package domain

import "time"

// Published site statuses.
const (
	SiteStatusReady   = "ready"
	SiteStatusDeleted = "deleted"
)

// PublishedSite is the single live publication record for a project. The
// hosting project identity is kept across republishes; unpublish soft-marks
// the row deleted so the next publish can reuse it.
type PublishedSite struct {
	ID               string
	ProjectID        string
	Slug             string
	HostingProjectID string
	DeploymentID     string
	URL              string
	BuildOutputID    string
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsStale reports whether the site serves an older build than the project's
// latest complete one.
func (s PublishedSite) IsStale(latestCompleteBuildID string) bool {
	return latestCompleteBuildID != "" && s.BuildOutputID != latestCompleteBuildID
}
