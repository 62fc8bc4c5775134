package policy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomSequence(rng *rand.Rand, n, d int) *mat.Dense {
	x := mat.NewDense(n, d, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, x)
	return x
}

func newTestModel(t *testing.T, cell Cell, layers int, seed int64) *Model {
	t.Helper()
	m, err := New(Spec{InputDim: 3, HiddenDim: 2, NumLayers: layers, Cell: cell}, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return m
}

func TestModel_ForwardProducesProbabilities(t *testing.T) {
	for _, cell := range []Cell{CellLSTM, CellGRU} {
		m := newTestModel(t, cell, 2, 1)
		x := randomSequence(rand.New(rand.NewSource(2)), 6, 3)

		probs, err := m.Probabilities(x)
		require.NoError(t, err)
		require.Len(t, probs, 6)
		for _, p := range probs {
			assert.True(t, p >= 0 && p <= 1, "probability %v out of range", p)
		}
	}
}

func TestModel_DimensionMismatch(t *testing.T) {
	m := newTestModel(t, CellLSTM, 1, 1)

	_, err := m.Forward(mat.NewDense(4, 5, nil))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	pass, err := m.Forward(mat.NewDense(4, 3, nil))
	require.NoError(t, err)
	assert.ErrorIs(t, m.Backward(pass, make([]float64, 3)), ErrDimensionMismatch)
}

func TestModel_EmptySequence(t *testing.T) {
	m := newTestModel(t, CellLSTM, 1, 1)
	_, err := m.Forward(&mat.Dense{})
	assert.ErrorIs(t, err, ErrEmptySequence)
}

func TestModel_ScoresDependOnLaterPositions(t *testing.T) {
	for _, cell := range []Cell{CellLSTM, CellGRU} {
		m := newTestModel(t, cell, 1, 3)
		x := randomSequence(rand.New(rand.NewSource(4)), 5, 3)

		before, err := m.Probabilities(x)
		require.NoError(t, err)

		x.Set(4, 0, x.At(4, 0)+5)
		after, err := m.Probabilities(x)
		require.NoError(t, err)

		assert.NotEqual(t, before[0], after[0], "%s: first position ignores the end of the sequence", cell)
	}
}

// The model's analytical gradient must match central finite differences of
// the linear cost sum_t c_t * logit_t.
func TestModel_GradientMatchesFiniteDifferences(t *testing.T) {
	for _, cell := range []Cell{CellLSTM, CellGRU} {
		t.Run(string(cell), func(t *testing.T) {
			m := newTestModel(t, cell, 2, 7)
			rng := rand.New(rand.NewSource(8))
			x := randomSequence(rng, 4, 3)
			coef := make([]float64, 4)
			for i := range coef {
				coef[i] = rng.NormFloat64()
			}
			cost := func() float64 {
				pass, err := m.Forward(x)
				require.NoError(t, err)
				var c float64
				for i, z := range pass.Logits {
					c += coef[i] * z
				}
				return c
			}

			m.ZeroGrad()
			pass, err := m.Forward(x)
			require.NoError(t, err)
			require.NoError(t, m.Backward(pass, coef))

			const eps = 1e-5
			for _, p := range m.Params() {
				r, c := p.Value.Dims()
				for i := 0; i < r; i++ {
					for j := 0; j < c; j++ {
						orig := p.Value.At(i, j)
						p.Value.Set(i, j, orig+eps)
						plus := cost()
						p.Value.Set(i, j, orig-eps)
						minus := cost()
						p.Value.Set(i, j, orig)

						numeric := (plus - minus) / (2 * eps)
						assert.InDelta(t, numeric, p.Grad.At(i, j), 1e-6, "%s[%d,%d]", p.Name, i, j)
					}
				}
			}
		})
	}
}

func TestModel_GradientsAccumulateUntilZeroed(t *testing.T) {
	m := newTestModel(t, CellGRU, 1, 5)
	x := randomSequence(rand.New(rand.NewSource(6)), 3, 3)
	dz := []float64{1, -1, 0.5}

	pass, err := m.Forward(x)
	require.NoError(t, err)
	require.NoError(t, m.Backward(pass, dz))
	once := mat.DenseCopyOf(m.Params()[0].Grad)
	require.NoError(t, m.Backward(pass, dz))

	var twice mat.Dense
	twice.Scale(2, once)
	assert.True(t, mat.EqualApprox(&twice, m.Params()[0].Grad, 1e-12))

	m.ZeroGrad()
	assert.Zero(t, mat.Norm(m.Params()[0].Grad, 1))
}

func TestModel_SnapshotRestore(t *testing.T) {
	src := newTestModel(t, CellLSTM, 2, 11)
	dst := newTestModel(t, CellLSTM, 2, 12)
	x := randomSequence(rand.New(rand.NewSource(13)), 5, 3)

	want, err := src.Probabilities(x)
	require.NoError(t, err)

	require.NoError(t, dst.Restore(src.Snapshot()))
	got, err := dst.Probabilities(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestModel_RestoreRejectsIncompatibleSnapshot(t *testing.T) {
	m := newTestModel(t, CellLSTM, 1, 1)

	other := newTestModel(t, CellGRU, 1, 1)
	assert.ErrorIs(t, m.Restore(other.Snapshot()), ErrIncompatible)

	snap := m.Snapshot()
	snap.Tensors[0].Data = snap.Tensors[0].Data[1:]
	assert.ErrorIs(t, m.Restore(snap), ErrIncompatible)

	snap = m.Snapshot()
	snap.Tensors[1].Name = "bogus"
	assert.ErrorIs(t, m.Restore(snap), ErrIncompatible)
}

func TestParseCell(t *testing.T) {
	for in, want := range map[string]Cell{"lstm": CellLSTM, "Bi-lstm": CellLSTM, "GRU": CellGRU, "bi-gru": CellGRU} {
		got, err := ParseCell(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseCell("transformer")
	assert.ErrorIs(t, err, ErrInvalidSpec)
}
