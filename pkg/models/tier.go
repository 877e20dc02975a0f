package models

// Tier represents the complexity tier of a work item.
// Routing configuration maps each tier to an agent name.
type Tier string

const (
	// TierSimple is for small, mechanical changes.
	TierSimple Tier = "simple"
	// TierStandard is for typical implementation work.
	TierStandard Tier = "standard"
	// TierComplex is for large or architecturally sensitive work.
	TierComplex Tier = "complex"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierSimple, TierStandard, TierComplex:
		return true
	default:
		return false
	}
}
