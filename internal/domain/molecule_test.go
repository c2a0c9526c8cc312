package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoleculeHashDeterministic(t *testing.T) {
	m := Molecule{
		Symbols:               []string{"O", "H", "H"},
		Geometry:              []float64{0, 0, 0, 0, 0, 1.8, 0, 1.4, -0.4},
		Fragments:             [][]int{{0, 1, 2}},
		MolecularCharge:       0,
		MolecularMultiplicity: 1,
	}
	assert.Equal(t, m.Hash(), m.Hash(), "hash must be stable across calls")
}

func TestMoleculeHashCaseAndWhitespaceInsensitive(t *testing.T) {
	a := Molecule{Symbols: []string{"O", "H", "H"}, MolecularMultiplicity: 1}
	b := Molecule{Symbols: []string{" o", "h ", "H"}, MolecularMultiplicity: 1}
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestMoleculeHashGeometryNoiseConverges(t *testing.T) {
	a := Molecule{Symbols: []string{"O"}, Geometry: []float64{1.0, 2.0, 3.0}, MolecularMultiplicity: 1}
	b := Molecule{Symbols: []string{"O"}, Geometry: []float64{1.0 + 1e-12, 2.0, 3.0 - 1e-12}, MolecularMultiplicity: 1}
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestMoleculeHashFragmentOrderInsensitive(t *testing.T) {
	a := Molecule{Symbols: []string{"O"}, Fragments: [][]int{{1, 0}, {2}}, MolecularMultiplicity: 1}
	b := Molecule{Symbols: []string{"O"}, Fragments: [][]int{{2}, {0, 1}}, MolecularMultiplicity: 1}
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestMoleculeHashDiffersOnCharge(t *testing.T) {
	a := Molecule{Symbols: []string{"O"}, MolecularCharge: 0, MolecularMultiplicity: 1}
	b := Molecule{Symbols: []string{"O"}, MolecularCharge: 1, MolecularMultiplicity: 1}
	assert.NotEqual(t, a.Hash(), b.Hash())
}
