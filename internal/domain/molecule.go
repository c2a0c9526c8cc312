package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Molecule is immutable once inserted; MoleculeHash is its dedup key
// (invariant 4 of spec.md §3).
type Molecule struct {
	ID                     int64
	MoleculeHash           string
	MolecularFormula       string
	Symbols                []string
	Geometry               []float64 // 3N floats, bohr
	Fragments              [][]int
	MolecularCharge        float64
	MolecularMultiplicity  int
	Identifiers            map[string]string
	CreatedOn              time.Time
}

// geometryPrecision is the rounding applied before hashing so that two
// numerically-equivalent submissions (e.g. differing only past float noise)
// hash identically, per spec.md's design note on dedup keys.
const geometryPrecision = 8

// Hash computes the deterministic canonical hash used as MoleculeHash.
// Inputs are normalized first: symbols are upper-cased, geometry is rounded
// to a fixed precision, and fragments are sorted, so that two clients
// submitting the same logical molecule converge on the same hash.
func (m Molecule) Hash() string {
	h := sha256.New()

	symbols := make([]string, len(m.Symbols))
	for i, s := range m.Symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	fmt.Fprintf(h, "symbols:%s|", strings.Join(symbols, ","))

	for _, g := range m.Geometry {
		fmt.Fprintf(h, "%.*f,", geometryPrecision, roundTo(g, geometryPrecision))
	}
	h.Write([]byte("|"))

	frags := make([][]int, len(m.Fragments))
	copy(frags, m.Fragments)
	for _, f := range frags {
		sort.Ints(f)
	}
	sort.Slice(frags, func(i, j int) bool {
		return fmt.Sprint(frags[i]) < fmt.Sprint(frags[j])
	})
	fmt.Fprintf(h, "fragments:%v|", frags)

	fmt.Fprintf(h, "charge:%.*f|multiplicity:%d", geometryPrecision, roundTo(m.MolecularCharge, geometryPrecision), m.MolecularMultiplicity)

	return hex.EncodeToString(h.Sum(nil))
}

func roundTo(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}
