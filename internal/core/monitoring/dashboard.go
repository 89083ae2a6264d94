package monitoring

import (
	"fmt"

	"github.com/artpar/quickops/internal/core/identity"
)

// Panel layout on the dashboard grid, which is 24 units wide.
const (
	PanelWidth   = 12
	PanelHeight  = 9
	PanelsPerRow = 2
)

// GridPos is a panel's position on the dashboard grid.
type GridPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// PanelSpec describes one uptime panel.
type PanelSpec struct {
	ID       int
	Title    string
	JobLabel string
	Expr     string
	GridPos  GridPos
}

// PanelPosition tiles panels two per row, left to right then top to bottom.
//
// Example:
//
//	PanelPosition(3) // GridPos{X: 12, Y: 9, W: 12, H: 9}
func PanelPosition(i int) GridPos {
	return GridPos{
		X: (i % PanelsPerRow) * PanelWidth,
		Y: (i / PanelsPerRow) * PanelHeight,
		W: PanelWidth,
		H: PanelHeight,
	}
}

// UptimeExpr is the PromQL query for a job's scrape health.
func UptimeExpr(jobLabel string) string {
	return fmt.Sprintf("up{job=%q}", jobLabel)
}

// DashboardPanels returns one uptime panel per backend repo.
func DashboardPanels(project string, backendRepos []string) []PanelSpec {
	panels := make([]PanelSpec, 0, len(backendRepos))
	for i, repo := range backendRepos {
		job := identity.JobLabel(project, repo)
		panels = append(panels, PanelSpec{
			ID:       i + 1,
			Title:    identity.RepoName(repo) + " Uptime",
			JobLabel: job,
			Expr:     UptimeExpr(job),
			GridPos:  PanelPosition(i),
		})
	}
	return panels
}

// DashboardTitle is the display title of a project dashboard.
func DashboardTitle(project string) string {
	return project + " Monitoring"
}
