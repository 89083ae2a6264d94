package pipeline

import "github.com/artpar/quickops/internal/core/domain"

// Stage names the steps of a pipeline run, in order.
type Stage string

const (
	StageInit         Stage = "INIT"
	StageBuildAndScan Stage = "BUILD_AND_SCAN"
	StageProvision    Stage = "PROVISION"
	StageConfigure    Stage = "CONFIGURE"
	StageObserve      Stage = "OBSERVE"
	StageDeployed     Stage = "DEPLOYED"
)

// Sequence is the full happy-path order.
var Sequence = []Stage{
	StageInit,
	StageBuildAndScan,
	StageProvision,
	StageConfigure,
	StageObserve,
	StageDeployed,
}

// Next returns the stage after s, or "" when s is terminal or unknown.
func Next(s Stage) Stage {
	for i, st := range Sequence {
		if st == s && i+1 < len(Sequence) {
			return Sequence[i+1]
		}
	}
	return ""
}

// Result is what a pipeline run reports to its caller.
type Result struct {
	BuildID int                  `json:"buildId"`
	Stages  []domain.StageResult `json:"stages"`
	Status  domain.StageStatus   `json:"status"`
}

// Succeeded reports whether every build stage passed the gate.
func (r Result) Succeeded() bool {
	return r.Status == domain.StageSuccess
}

// Outputs are the provisioning results carried into later stages.
type Outputs struct {
	PublicIP string
	DNSLabel string
	Skipped  bool
}

// Host is the address later stages connect to: the DNS label when known,
// otherwise the public IP.
func (o Outputs) Host() string {
	if o.DNSLabel != "" {
		return o.DNSLabel
	}
	return o.PublicIP
}
