package domain

// SinglepointRecord computes a single QC result on one molecule. Its dedup
// key is the tuple (program, driver, method, basis, keywords_id, molecule_id)
// per invariant 4 of spec.md §3.
type SinglepointRecord struct {
	BaseRecord
	Spec           QCSpecification
	MoleculeID     int64
	ReturnResult   interface{}
	Properties    map[string]interface{}
	WavefunctionID int64
}

// OptimizationRecord chains singlepoint gradients to a converged geometry.
// HashIndex is its dedup key.
type OptimizationRecord struct {
	BaseRecord
	HashIndex         string
	Spec              OptimizationSpecification
	InitialMoleculeID int64
	FinalMoleculeID   int64
	TrajectoryIDs     []int64 // ordered singlepoint record ids
	Energies          []float64
}

// ScanDimensionKind enumerates grid-optimization/torsion scan axes.
type ScanDimensionKind string

const (
	ScanDistance ScanDimensionKind = "distance"
	ScanAngle    ScanDimensionKind = "angle"
	ScanDihedral ScanDimensionKind = "dihedral"
)

// ScanDimension is one strictly-monotonic scan axis of a grid optimization.
type ScanDimension struct {
	Kind     ScanDimensionKind
	Indices  []int
	Steps    []float64 // strictly monotonic
	Absolute bool      // false => steps are relative to the starting value
}

// TorsiondriveRecord drives a dihedral grid scan via the torsiondrive
// state-machine contract (spec.md §4.I, §9).
type TorsiondriveRecord struct {
	BaseRecord
	HashIndex            string
	OptSpec              OptimizationSpecification
	InitialMoleculeIDs   []int64
	Dihedrals            [][4]int
	GridSpacing          []float64
	DihedralRanges       [][2]float64
	EnergyDecreaseThresh float64
	EnergyUpperLimit     float64

	// GridOptimizations maps a grid-point key (e.g. "[90]") to the
	// optimization record id spawned for it.
	GridOptimizations map[string]int64
	MinimumPositions  map[string][]float64
	FinalEnergies     map[string]float64
}

// GridoptimizationRecord scans one optimization per grid point across N
// scan dimensions.
type GridoptimizationRecord struct {
	BaseRecord
	HashIndex          string
	OptSpec            OptimizationSpecification
	StartingMoleculeID int64
	ScanDimensions      []ScanDimension
	Preoptimization     bool

	// Optimizations maps a grid-point key to the optimization record id.
	Optimizations map[string]int64
}

// ReactionComponent is one stoichiometric term of a reaction.
type ReactionComponent struct {
	Coefficient     float64
	MoleculeID      int64
	SinglepointID   int64
	OptimizationID  int64
}

// ReactionRecord computes a stoichiometric combination of component energies.
type ReactionRecord struct {
	BaseRecord
	QCSpec      *QCSpecification
	OptSpec     *OptimizationSpecification
	Components  []ReactionComponent
	TotalEnergy *float64
}

// BSSECorrection selects many-body counterpoise handling.
type BSSECorrection string

const (
	BSSENone BSSECorrection = "none"
	BSSECP   BSSECorrection = "cp"
)

// ManybodyCluster is one fragment-subset singlepoint of a many-body
// expansion.
type ManybodyCluster struct {
	ClusterKey    string // canonical key, e.g. "1_2" for a 2-body real cluster
	Fragments     []int
	BasisKind     string // "real" (own basis) or "ghost" (full basis for BSSE)
	SinglepointID int64
}

// ManybodyRecord expands a cluster up to MaxNBody, optionally with
// counterpoise correction.
type ManybodyRecord struct {
	BaseRecord
	QCSpec             QCSpecification
	StartingMoleculeID int64
	MaxNBody       int
	BSSECorrection BSSECorrection
	Clusters       []ManybodyCluster
	Properties     map[string]interface{}
}

// NEBRecord drives a nudged-elastic-band pathway between two endpoints.
type NEBRecord struct {
	BaseRecord
	SPSpec            QCSpecification
	OptSpec           *OptimizationSpecification
	OptimizeTS        bool
	ChainMoleculeIDs  []int64
	IterationSinglepoints map[int][]int64 // iteration -> ordered singlepoint ids for non-endpoint images
	TSOptimizationID  int64
}
