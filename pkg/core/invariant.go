package core

import "encoding/json"

// Severity of an invariant failure. Error blocks execution (before
// phase) or demotes the run status (after phase); warnings never abort.
type Severity string

// Invariant severities. Error is the default.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// CheckKind discriminates the data-quality check variants.
type CheckKind string

// Check kinds.
const (
	CheckRowCount       CheckKind = "row_count"
	CheckNullPercentage CheckKind = "null_percentage"
	CheckValueRange     CheckKind = "value_range"
	CheckDistinctCount  CheckKind = "distinct_count"
)

// Check holds the kind-specific parameters of one data-quality check.
// Which fields apply depends on Kind:
//
//	row_count        Source?, Min?, Max?
//	null_percentage  Source?, Column, MaxPercentage
//	value_range      Source?, Column, MinValue?, MaxValue?
//	distinct_count   Source?, Column, Min?, Max?
//
// When Source is empty the check runs against the destination partition.
type Check struct {
	Kind          CheckKind
	Source        string
	Column        string
	Min           *int64
	Max           *int64
	MinValue      *float64
	MaxValue      *float64
	MaxPercentage float64
}

// Invariant is one named data-quality assertion attached to a version.
type Invariant struct {
	Name        string
	Description string
	Severity    Severity
	Check       Check
}

// Invariants groups a version's checks by execution phase.
type Invariants struct {
	Before []Invariant
	After  []Invariant
}

// IsZero reports whether no checks are defined in either phase.
func (iv Invariants) IsZero() bool {
	return len(iv.Before) == 0 && len(iv.After) == 0
}

// CanonicalJSON serializes the invariant set deterministically for the
// invariants checksum.
func (iv Invariants) CanonicalJSON() ([]byte, error) {
	type checkJSON struct {
		Kind          CheckKind `json:"kind"`
		Source        string    `json:"source,omitempty"`
		Column        string    `json:"column,omitempty"`
		Min           *int64    `json:"min,omitempty"`
		Max           *int64    `json:"max,omitempty"`
		MinValue      *float64  `json:"min_value,omitempty"`
		MaxValue      *float64  `json:"max_value,omitempty"`
		MaxPercentage float64   `json:"max_percentage,omitempty"`
	}
	type invJSON struct {
		Name        string    `json:"name"`
		Description string    `json:"description,omitempty"`
		Severity    Severity  `json:"severity"`
		Check       checkJSON `json:"check"`
	}
	conv := func(in []Invariant) []invJSON {
		out := make([]invJSON, 0, len(in))
		for _, iv := range in {
			sev := iv.Severity
			if sev == "" {
				sev = SeverityError
			}
			out = append(out, invJSON{
				Name:        iv.Name,
				Description: iv.Description,
				Severity:    sev,
				Check: checkJSON{
					Kind:          iv.Check.Kind,
					Source:        iv.Check.Source,
					Column:        iv.Check.Column,
					Min:           iv.Check.Min,
					Max:           iv.Check.Max,
					MinValue:      iv.Check.MinValue,
					MaxValue:      iv.Check.MaxValue,
					MaxPercentage: iv.Check.MaxPercentage,
				},
			})
		}
		return out
	}
	return json.Marshal(struct {
		Before []invJSON `json:"before"`
		After  []invJSON `json:"after"`
	}{conv(iv.Before), conv(iv.After)})
}
