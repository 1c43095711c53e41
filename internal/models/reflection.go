package models

// ReflectionStatus tells the runner how to proceed after a step.
type ReflectionStatus string

const (
	ReflectionSuccess     ReflectionStatus = "success"
	ReflectionMinorRepair ReflectionStatus = "minor_repair"
	ReflectionReplan      ReflectionStatus = "replan"
)

// Valid reports whether s is a known status.
func (s ReflectionStatus) Valid() bool {
	switch s {
	case ReflectionSuccess, ReflectionMinorRepair, ReflectionReplan:
		return true
	}
	return false
}

// Reflection classifies a completed step.
type Reflection struct {
	Status      ReflectionStatus `json:"status"`
	Explanation string           `json:"explanation"`
	NextHint    string           `json:"next_hint,omitempty"`
	FailureType string           `json:"failure_type,omitempty"`
	Lesson      string           `json:"lesson,omitempty"`
}
