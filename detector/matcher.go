package detector

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the similarity a vector must exceed to count as a match.
const DefaultThreshold = 0.8

// Match compares a feature vector against a stored reference pattern.
func Match(features, target FeatureVector, threshold float64) DetectionResult {
	similarity := CosineSimilarity(features, target)
	return DetectionResult{
		IsMatch:         similarity > threshold,
		SimilarityScore: similarity,
		Confidence:      clamp01(similarity),
	}
}

// CosineSimilarity returns dot(a, b) / (|a|·|b|), or 0 when either vector has zero norm.
func CosineSimilarity(a, b FeatureVector) float64 {
	normA := floats.Norm(a[:], 2)
	normB := floats.Norm(b[:], 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := floats.Dot(a[:], b[:]) / (normA * normB)
	// rounding can push parallel vectors just past 1
	return math.Max(-1, math.Min(1, sim))
}

// RankDetections orders detections by confidence, then similarity, then label.
func RankDetections(results []Detection) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Result.Confidence != results[j].Result.Confidence {
			return results[i].Result.Confidence > results[j].Result.Confidence
		}
		if results[i].Result.SimilarityScore != results[j].Result.SimilarityScore {
			return results[i].Result.SimilarityScore > results[j].Result.SimilarityScore
		}
		return results[i].Label < results[j].Label
	})
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
