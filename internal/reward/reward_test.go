package reward

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func allSet(n int) []bool {
	m := make([]bool, n)
	for i := range m {
		m[i] = true
	}
	return m
}

func TestCompute_RejectsInvalidPickCount(t *testing.T) {
	seq := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	probs := []float64{0.5, 0.5, 0.5}
	for _, k := range []int{0, -1, 4} {
		_, err := Compute(seq, allSet(3), k, probs)
		assert.ErrorIs(t, err, ErrInvalidPickCount, "k=%d", k)
	}
}

func TestCompute_RejectsShapeMismatch(t *testing.T) {
	seq := mat.NewDense(3, 2, nil)
	_, err := Compute(seq, allSet(2), 1, []float64{0.5, 0.5, 0.5})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

// More than k mask bits set: the k most probable win and equal
// probabilities resolve to the lower index.
func TestReconcile_TooManyPicksBreaksTiesByIndex(t *testing.T) {
	probs := []float64{0.9, 0.5, 0.5, 0.5, 0.1}
	picks, err := Reconcile(allSet(5), 3, probs)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, picks)

	mask := []bool{false, true, false, true, true}
	picks, err = Reconcile(mask, 2, []float64{0.9, 0.4, 0.9, 0.4, 0.4})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, picks)
}

// Fewer than k mask bits set: the set bits stay and the most probable
// unset positions fill the gap.
func TestReconcile_TooFewPicksPadsByProbability(t *testing.T) {
	mask := []bool{false, true, false, false}
	picks, err := Reconcile(mask, 3, []float64{0.3, 0.1, 0.8, 0.3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, picks)

	picks, err = Reconcile(make([]bool, 4), 2, []float64{0.2, 0.6, 0.1, 0.6})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, picks)
}

func TestReconcile_ExactMaskIsKept(t *testing.T) {
	mask := []bool{true, false, false, true}
	picks, err := Reconcile(mask, 2, []float64{0.1, 0.9, 0.9, 0.1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, picks)
}

func TestCompute_SinglePickHasNoDiversity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	seq := mat.NewDense(6, 4, nil)
	seq.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, seq)

	for i := 0; i < 6; i++ {
		mask := make([]bool, 6)
		mask[i] = true
		res, err := Compute(seq, mask, 1, make([]float64, 6))
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Diversity)
		assert.Equal(t, []int{i}, res.Picks)
	}
}

func TestCompute_KnownValues(t *testing.T) {
	// Two orthogonal unit vectors, both picked: every position is its own
	// nearest pick and the picks are fully dissimilar.
	seq := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	res, err := Compute(seq, allSet(2), 2, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Diversity, 1e-12)
	assert.InDelta(t, 1.0, res.Representativeness, 1e-12)
	assert.InDelta(t, 1.0, res.Reward, 1e-12)

	// Identical picks carry no diversity; the unpicked row is at distance sqrt(2).
	seq = mat.NewDense(3, 2, []float64{1, 0, 1, 0, 0, 1})
	res, err = Compute(seq, []bool{true, true, false}, 2, []float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Diversity, 1e-12)
	assert.InDelta(t, math.Exp(-math.Sqrt2/3), res.Representativeness, 1e-12)
	assert.InDelta(t, math.Exp(-math.Sqrt2/3)/2, res.Reward, 1e-12)
}

func TestCompute_OpposedPicksAreClipped(t *testing.T) {
	seq := mat.NewDense(2, 1, []float64{1, -1})
	res, err := Compute(seq, allSet(2), 2, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Diversity, 1e-12)
	assert.Equal(t, 1.0, res.Reward)
}

func TestReward_PickOrderDoesNotMatter(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	rows := make([][]float64, 7)
	for i := range rows {
		rows[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}
	a := []int{0, 2, 5}
	b := []int{5, 0, 2}
	assert.InDelta(t, diversity(rows, a), diversity(rows, b), 1e-12)
	assert.InDelta(t, representativeness(rows, a), representativeness(rows, b), 1e-12)
}

func TestCompute_RelabelingInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const n, d, k = 8, 3, 3
	seq := mat.NewDense(n, d, nil)
	seq.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, seq)
	probs := make([]float64, n)
	mask := make([]bool, n)
	for i := range probs {
		probs[i] = rng.Float64()
		mask[i] = rng.Intn(2) == 1
	}

	perm := rng.Perm(n)
	pSeq := mat.NewDense(n, d, nil)
	pProbs := make([]float64, n)
	pMask := make([]bool, n)
	for newIdx, oldIdx := range perm {
		pSeq.SetRow(newIdx, mat.Row(nil, oldIdx, seq))
		pProbs[newIdx] = probs[oldIdx]
		pMask[newIdx] = mask[oldIdx]
	}

	orig, err := Compute(seq, mask, k, probs)
	require.NoError(t, err)
	permuted, err := Compute(pSeq, pMask, k, pProbs)
	require.NoError(t, err)

	assert.InDelta(t, orig.Reward, permuted.Reward, 1e-12)
	mapped := make(map[int]bool)
	for _, idx := range permuted.Picks {
		mapped[perm[idx]] = true
	}
	for _, idx := range orig.Picks {
		assert.True(t, mapped[idx], "pick %d lost under relabeling", idx)
	}
}

func TestCompute_RewardInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for trial := 0; trial < 50; trial++ {
		seq := mat.NewDense(5, 3, nil)
		seq.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, seq)
		mask := make([]bool, 5)
		probs := make([]float64, 5)
		for i := range mask {
			mask[i] = rng.Intn(2) == 1
			probs[i] = rng.Float64()
		}
		res, err := Compute(seq, mask, 1+rng.Intn(5), probs)
		require.NoError(t, err)
		assert.True(t, res.Reward >= 0 && res.Reward <= 1, "reward %v", res.Reward)
	}
}
