package domain

import "strings"

// Driver is the QC calculation kind requested.
type Driver string

const (
	DriverEnergy     Driver = "energy"
	DriverGradient   Driver = "gradient"
	DriverHessian    Driver = "hessian"
	DriverProperties Driver = "properties"
	DriverDeferred   Driver = "deferred"
)

// QCSpecification describes a single-point quantum chemistry calculation.
//
// Name fields are lower-cased and an empty Basis is normalized to "" (treated
// as SQL NULL at the storage boundary), per spec.md §3.
type QCSpecification struct {
	Program     string
	Driver      Driver
	Method      string
	Basis       string // "" means None/NULL
	KeywordsID  int64  // 0 means no keyword set
	Protocols   map[string]interface{}
}

// Normalize lower-cases name fields and clears an empty basis, matching the
// storage-layer normalization spec.md §3 requires for QCSpecification.
func (s QCSpecification) Normalize() QCSpecification {
	s.Program = strings.ToLower(strings.TrimSpace(s.Program))
	s.Method = strings.ToLower(strings.TrimSpace(s.Method))
	s.Basis = strings.ToLower(strings.TrimSpace(s.Basis))
	s.Driver = Driver(strings.ToLower(string(s.Driver)))
	if s.Protocols == nil {
		s.Protocols = map[string]interface{}{}
	}
	return s
}

// OptimizationSpecification describes a geometry optimization program run
// plus the nested QC specification used for its gradients.
type OptimizationSpecification struct {
	Program  string
	QCSpec   QCSpecification
	Keywords map[string]interface{}
}

// Normalize mirrors QCSpecification.Normalize for the optimizer program name.
func (s OptimizationSpecification) Normalize() OptimizationSpecification {
	s.Program = strings.ToLower(strings.TrimSpace(s.Program))
	s.QCSpec = s.QCSpec.Normalize()
	if s.Keywords == nil {
		s.Keywords = map[string]interface{}{}
	}
	return s
}
