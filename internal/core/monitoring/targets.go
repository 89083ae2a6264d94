// Package monitoring holds the scrape-target and dashboard models.
// This is part of the Functional Core - all functions are pure with no I/O.
package monitoring

import (
	"net"
	"strconv"

	"github.com/artpar/quickops/internal/core/identity"
)

// JobLabelKey is the Prometheus label that carries the job name.
const JobLabelKey = "job"

// =============================================================================
// Scrape Targets
// =============================================================================

// ScrapeTarget is one address Prometheus scrapes under a job label.
type ScrapeTarget struct {
	Address  string
	JobLabel string
}

// TargetGroup is a Prometheus file_sd entry.
type TargetGroup struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Job returns the group's job label.
func (g TargetGroup) Job() string {
	return g.Labels[JobLabelKey]
}

// Group wraps a single target as a file_sd entry.
func (t ScrapeTarget) Group() TargetGroup {
	return TargetGroup{
		Targets: []string{t.Address},
		Labels:  map[string]string{JobLabelKey: t.JobLabel},
	}
}

// TargetsFor returns one scrape target per backend repo, addressed at
// host:port(i) and labelled {project}-{repo}.
//
// Example:
//
//	TargetsFor("shopapp", "shopapp.example.net", []string{".../orders.git"})
//	// []ScrapeTarget{{Address: "shopapp.example.net:5000", JobLabel: "shopapp-orders"}}
func TargetsFor(project, host string, backendRepos []string) []ScrapeTarget {
	targets := make([]ScrapeTarget, 0, len(backendRepos))
	for i, repo := range backendRepos {
		targets = append(targets, ScrapeTarget{
			Address:  net.JoinHostPort(host, strconv.Itoa(identity.Port(i))),
			JobLabel: identity.JobLabel(project, repo),
		})
	}
	return targets
}

// MergeTargets appends each target not already present in current, keyed by
// (job label, address). Existing groups are returned unchanged and in
// order, so merging is idempotent.
func MergeTargets(current []TargetGroup, additions []ScrapeTarget) []TargetGroup {
	type key struct{ job, addr string }

	seen := make(map[key]bool)
	for _, g := range current {
		for _, addr := range g.Targets {
			seen[key{g.Job(), addr}] = true
		}
	}

	merged := make([]TargetGroup, 0, len(current)+len(additions))
	merged = append(merged, current...)
	for _, t := range additions {
		k := key{t.JobLabel, t.Address}
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, t.Group())
	}
	return merged
}
