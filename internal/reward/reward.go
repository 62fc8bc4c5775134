// Package reward scores a candidate selection on diversity and
// representativeness of the full sequence.
package reward

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidPickCount indicates k <= 0 or k > sequence length.
	ErrInvalidPickCount = errors.New("invalid pick count")
	// ErrShapeMismatch indicates the sequence, mask and probabilities disagree on length.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNonFinite indicates a reward that is not finite.
	ErrNonFinite = errors.New("non-finite reward")
)

// Result is the score of one selection.
type Result struct {
	Reward             float64
	Diversity          float64
	Representativeness float64
	// Picks are the selected positions in ascending order.
	Picks []int
}

// Compute reconciles mask to exactly k picks and scores them against seq.
// The reward is the mean of the diversity and representativeness terms,
// clipped to [0,1].
func Compute(seq mat.Matrix, mask []bool, k int, probs []float64) (Result, error) {
	n, _ := seq.Dims()
	if err := checkPickCount(k, n); err != nil {
		return Result{}, err
	}
	if len(mask) != n || len(probs) != n {
		return Result{}, fmt.Errorf("%w: %d rows, %d mask entries, %d probabilities", ErrShapeMismatch, n, len(mask), len(probs))
	}

	picks, err := Reconcile(mask, k, probs)
	if err != nil {
		return Result{}, err
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, seq)
	}

	res := Result{
		Diversity:          diversity(rows, picks),
		Representativeness: representativeness(rows, picks),
		Picks:              picks,
	}
	res.Reward = math.Max(0, math.Min(1, (res.Diversity+res.Representativeness)/2))
	if math.IsNaN(res.Reward) || math.IsNaN(res.Diversity) || math.IsNaN(res.Representativeness) {
		return Result{}, fmt.Errorf("%w: diversity %v representativeness %v", ErrNonFinite, res.Diversity, res.Representativeness)
	}
	return res, nil
}

// Reconcile turns a sampled mask into exactly k positions. With more than k
// positive entries it keeps the k most probable; with fewer it adds the most
// probable unselected positions. Ties go to the lower index. The result is
// sorted ascending.
func Reconcile(mask []bool, k int, probs []float64) ([]int, error) {
	if err := checkPickCount(k, len(mask)); err != nil {
		return nil, err
	}
	if len(probs) != len(mask) {
		return nil, fmt.Errorf("%w: %d mask entries, %d probabilities", ErrShapeMismatch, len(mask), len(probs))
	}

	var on, off []int
	for i, set := range mask {
		if set {
			on = append(on, i)
		} else {
			off = append(off, i)
		}
	}
	byProbability := func(idx []int) {
		sort.SliceStable(idx, func(a, b int) bool {
			pa, pb := probs[idx[a]], probs[idx[b]]
			if pa != pb {
				return pa > pb
			}
			return idx[a] < idx[b]
		})
	}

	var picks []int
	if len(on) >= k {
		byProbability(on)
		picks = append(picks, on[:k]...)
	} else {
		byProbability(off)
		picks = append(picks, on...)
		picks = append(picks, off[:k-len(on)]...)
	}
	sort.Ints(picks)
	return picks, nil
}

func checkPickCount(k, n int) error {
	if k <= 0 || k > n {
		return fmt.Errorf("%w: %d picks from %d positions", ErrInvalidPickCount, k, n)
	}
	return nil
}

// diversity is the mean cosine dissimilarity over ordered pairs of picks.
func diversity(rows [][]float64, picks []int) float64 {
	if len(picks) < 2 {
		return 0
	}
	var sum float64
	for a, i := range picks {
		for b, j := range picks {
			if a == b {
				continue
			}
			sum += 1 - cosine(rows[i], rows[j])
		}
	}
	k := float64(len(picks))
	return sum / (k * (k - 1))
}

func cosine(x, y []float64) float64 {
	nx, ny := floats.Norm(x, 2), floats.Norm(y, 2)
	if nx == 0 || ny == 0 {
		return 0
	}
	return floats.Dot(x, y) / (nx * ny)
}

// representativeness is exp(-mean distance from every position to its
// nearest pick), so tighter coverage of the sequence scores higher.
func representativeness(rows [][]float64, picks []int) float64 {
	var total float64
	for _, x := range rows {
		nearest := math.Inf(1)
		for _, j := range picks {
			if d := floats.Distance(x, rows[j], 2); d < nearest {
				nearest = d
			}
		}
		total += nearest
	}
	return math.Exp(-total / float64(len(rows)))
}
