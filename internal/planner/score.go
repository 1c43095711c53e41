package planner

import (
	"sort"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/models"
	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/tools"
)

// Score weights.
const (
	weightGrounding       = 0.35
	weightFeasibility     = 0.35
	weightLength          = 0.2
	weightDestructiveness = 0.1
	scoreCeiling          = 11
)

// Assessment holds the four scoring inputs for a plan, each on a 0-10
// scale except Length, which is the step count.
type Assessment struct {
	GroundingConfidence float64 `json:"grounding_confidence"`
	ToolFeasibility     float64 `json:"tool_feasibility"`
	Destructiveness     float64 `json:"destructiveness"`
	Length              int     `json:"length"`
}

// Score combines an assessment into one number; higher is better. Longer
// and more destructive plans are penalised.
func (a Assessment) Score() float64 {
	return weightGrounding*a.GroundingConfidence +
		weightFeasibility*a.ToolFeasibility +
		weightLength*float64(scoreCeiling-a.Length) +
		weightDestructiveness*(scoreCeiling-a.Destructiveness)
}

// Candidate is a scored plan.
type Candidate struct {
	Strategy   string       `json:"strategy"`
	Plan       *models.Plan `json:"plan"`
	Assessment Assessment   `json:"assessment"`
	Score      float64      `json:"score"`
}

// Assess computes the assessment of plan. The model's own grounding and
// destructiveness claims are clamped; feasibility is computed from the
// registry, and each dangerous step adds to destructiveness.
func Assess(plan *models.Plan, reg tools.Registry, grounding, destructiveness float64) Assessment {
	a := Assessment{
		GroundingConfidence: clamp(grounding),
		Destructiveness:     clamp(destructiveness),
		Length:              plan.Len(),
	}
	if plan.Len() == 0 {
		return a
	}
	feasible, dangerous := 0, 0
	for _, s := range plan.Steps {
		if s.IsFinish() || s.ToolName == models.ToolAskUser || reg == nil || reg.HasTool(s.ToolName) {
			feasible++
		}
		if reg != nil && tools.IsDangerous(reg, s.ToolName) {
			dangerous++
		}
	}
	a.ToolFeasibility = 10 * float64(feasible) / float64(plan.Len())
	a.Destructiveness = clamp(a.Destructiveness + 3*float64(dangerous))
	return a
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	}
	return v
}

// Rank sorts candidates best first. Ties keep input order.
func Rank(cands []Candidate) []Candidate {
	out := append([]Candidate(nil), cands...)
	for i := range out {
		out[i].Score = out[i].Assessment.Score()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
