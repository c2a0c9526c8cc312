package serviceengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MolSSI/QCFractal-sub005/internal/domain"
)

func TestHashIndexDeterministic(t *testing.T) {
	a := hashIndex("optimization", "b3lyp", int64(5), "dihedral=0")
	b := hashIndex("optimization", "b3lyp", int64(5), "dihedral=0")
	assert.Equal(t, a, b)

	c := hashIndex("optimization", "b3lyp", int64(5), "dihedral=90")
	assert.NotEqual(t, a, c)
}

func TestFirstErroredPicksLowestKeyInOrder(t *testing.T) {
	children := map[string]childInfo{
		"b": {Key: "b", RecordID: 2, Status: domain.StatusComplete},
		"a": {Key: "a", RecordID: 1, Status: domain.StatusError},
		"c": {Key: "c", RecordID: 3, Status: domain.StatusError},
	}
	failed, ok := firstErrored(children)
	assert.True(t, ok)
	assert.Equal(t, "a", failed.Key)
}

func TestFirstErroredNoneErrored(t *testing.T) {
	children := map[string]childInfo{
		"a": {Key: "a", Status: domain.StatusComplete},
		"b": {Key: "b", Status: domain.StatusRunning},
	}
	_, ok := firstErrored(children)
	assert.False(t, ok)
}

func TestAllComplete(t *testing.T) {
	assert.True(t, allComplete(map[string]childInfo{
		"a": {Status: domain.StatusComplete},
		"b": {Status: domain.StatusComplete},
	}))
	assert.False(t, allComplete(map[string]childInfo{
		"a": {Status: domain.StatusComplete},
		"b": {Status: domain.StatusRunning},
	}))
	assert.True(t, allComplete(map[string]childInfo{}))
}

func TestExtractSinglepointEnergyPrefersReturnResult(t *testing.T) {
	rec := domain.SinglepointRecord{ReturnResult: -76.4}
	assert.Equal(t, -76.4, extractSinglepointEnergy(rec))
}

func TestExtractSinglepointEnergyFallsBackToProperties(t *testing.T) {
	rec := domain.SinglepointRecord{
		Properties: map[string]interface{}{"current energy": -1.5},
	}
	assert.Equal(t, -1.5, extractSinglepointEnergy(rec))

	rec2 := domain.SinglepointRecord{
		Properties: map[string]interface{}{"return_energy": -2.5},
	}
	assert.Equal(t, -2.5, extractSinglepointEnergy(rec2))
}

func TestExtractSinglepointEnergyDefaultsZero(t *testing.T) {
	assert.Equal(t, 0.0, extractSinglepointEnergy(domain.SinglepointRecord{}))
}

func TestLastEnergy(t *testing.T) {
	assert.Equal(t, 0.0, lastEnergy(nil))
	assert.Equal(t, -3.0, lastEnergy([]float64{-1, -2, -3}))
}

func TestMarshalRecordTaskRoundTrips(t *testing.T) {
	raw, err := marshalRecordTask(42, "compute_procedure")
	assert.NoError(t, err)
	assert.Contains(t, string(raw), `"record_id":42`)
	assert.Contains(t, string(raw), `"function":"compute_procedure"`)
}
