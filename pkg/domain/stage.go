package domain

// Canonical pipeline stages, in report order.
const (
	StageProduct  = "product"
	StageCustomer = "customer"
	StageEngineer = "engineer"
	StageRisk     = "risk"
)

// Steps with dedicated handling; every other step name is a stage.
const (
	StepStart     = "start"
	StepClarifier = "clarifier"
	StepSummary   = "summary"
)

// CanonicalStages lists the stages the report always shows, in order.
func CanonicalStages() []string {
	return []string{StageProduct, StageCustomer, StageEngineer, StageRisk}
}

// IsCanonicalStage reports whether name is one of CanonicalStages.
func IsCanonicalStage(name string) bool {
	switch name {
	case StageProduct, StageCustomer, StageEngineer, StageRisk:
		return true
	}
	return false
}
