package models

// ReconciliationRule maps a description/reference pattern to a spend
// category with a configured confidence. Rules are admin-configured and
// read-only at engine runtime.
type ReconciliationRule struct {
	ID             string  `json:"id" yaml:"id"`
	Pattern        string  `json:"pattern" yaml:"pattern"`
	TargetCategory string  `json:"target_category" yaml:"target_category"`
	Confidence     float64 `json:"confidence" yaml:"confidence"`
	Description    string  `json:"description" yaml:"description"`
	Regex          bool    `json:"regex,omitempty" yaml:"regex,omitempty"`
}
