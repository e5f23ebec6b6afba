// Package cluster groups per-period financial rows with k-means and asks the
// model to interpret the groups.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const maxIterations = 300

// DefaultSeed keeps clustering reproducible across runs.
const DefaultSeed = 42

var (
	ErrInvalidK     = errors.New("invalid cluster count")
	ErrRaggedRows   = errors.New("rows have different lengths")
	ErrNoFeatures   = errors.New("rows have no features")
	ErrNonFiniteRow = errors.New("row contains NaN or Inf")
)

// Result is a fitted clustering.
type Result struct {
	// Labels[i] is the cluster of rows[i].
	Labels []int
	// Centroids are in the original (unscaled) units.
	Centroids  [][]float64
	Iterations int
}

// KMeans clusters rows into k groups. Features are standardized to zero mean
// and unit variance first, so large-valued columns do not dominate.
func KMeans(rows [][]float64, k int, seed int64) (Result, error) {
	if k < 1 {
		return Result{}, fmt.Errorf("%w: k=%d", ErrInvalidK, k)
	}
	if k > len(rows) {
		return Result{}, fmt.Errorf("%w: k=%d exceeds %d rows", ErrInvalidK, k, len(rows))
	}
	dims := len(rows[0])
	if dims == 0 {
		return Result{}, ErrNoFeatures
	}
	for i, r := range rows {
		if len(r) != dims {
			return Result{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrRaggedRows, i, len(r), dims)
		}
		for _, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Result{}, fmt.Errorf("%w: row %d", ErrNonFiniteRow, i)
			}
		}
	}

	scaled, means, stds := standardize(rows, dims)
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	centroids := seedCentroids(scaled, k, rng)

	labels := make([]int, len(scaled))
	for i := range labels {
		labels[i] = -1
	}

	iter := 0
	for iter < maxIterations {
		iter++
		changed := assign(scaled, centroids, labels)
		if !changed {
			break
		}
		recompute(scaled, labels, centroids)
	}

	out := make([][]float64, k)
	for c, centroid := range centroids {
		out[c] = make([]float64, dims)
		for j, v := range centroid {
			out[c][j] = v*stds[j] + means[j]
		}
	}
	return Result{Labels: labels, Centroids: out, Iterations: iter}, nil
}

func standardize(rows [][]float64, dims int) ([][]float64, []float64, []float64) {
	means := make([]float64, dims)
	stds := make([]float64, dims)
	col := make([]float64, len(rows))
	for j := 0; j < dims; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		means[j], stds[j] = stat.PopMeanStdDev(col, nil)
		if stds[j] == 0 {
			stds[j] = 1
		}
	}

	scaled := make([][]float64, len(rows))
	for i, r := range rows {
		scaled[i] = make([]float64, dims)
		for j, v := range r {
			scaled[i][j] = (v - means[j]) / stds[j]
		}
	}
	return scaled, means, stds
}

// seedCentroids picks initial centroids with k-means++.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	chosen := make([]bool, len(points))
	first := rng.IntN(len(points))
	chosen[first] = true
	centroids := [][]float64{clone(points[first])}

	dist := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			d := nearestDistance(p, centroids)
			dist[i] = d * d
			total += dist[i]
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range dist {
				acc += d
				if d > 0 && acc >= target {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// Remaining points coincide with existing centroids.
			for i := range points {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		chosen[next] = true
		centroids = append(centroids, clone(points[next]))
	}
	return centroids
}

func nearestDistance(p []float64, centroids [][]float64) float64 {
	best := math.Inf(1)
	for _, c := range centroids {
		if d := floats.Distance(p, c, 2); d < best {
			best = d
		}
	}
	return best
}

func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(p, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func assign(points, centroids [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		c := nearest(p, centroids)
		if labels[i] != c {
			labels[i] = c
			changed = true
		}
	}
	return changed
}

// recompute moves each centroid to the mean of its points. Empty clusters
// keep their previous centroid.
func recompute(points [][]float64, labels []int, centroids [][]float64) {
	dims := len(centroids[0])
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dims)
	}
	for i, p := range points {
		floats.Add(sums[labels[i]], p)
		counts[labels[i]]++
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		floats.ScaleTo(centroids[c], 1/float64(counts[c]), sums[c])
	}
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
