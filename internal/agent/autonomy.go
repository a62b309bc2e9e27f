package agent

import "github.com/overwatch-ai/reins/internal/agent/tools"

// AutoExecute decides whether a plan with the given aggregate risk may run
// without human approval under the session's autonomy level. Total and
// side-effect-free; the per-step authorization gate still applies either way.
//
//	read_only, recommendations: auto-execute read-only plans only
//	assisted:                   auto-execute up to low-risk writes
//	supervised:                 auto-execute everything
func AutoExecute(planRisk tools.Risk, autonomy Autonomy) bool {
	switch autonomy {
	case AutonomyReadOnly, AutonomyRecommendations:
		return planRisk.AtMost(tools.RiskReadOnly)
	case AutonomyAssisted:
		return planRisk.AtMost(tools.RiskWriteLow)
	case AutonomySupervised:
		return true
	default:
		return false
	}
}
