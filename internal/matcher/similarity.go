package matcher

import (
	"time"

	"github.com/agnivade/levenshtein"
)

// TitleSimilarity returns the normalized Levenshtein similarity of two
// already-normalized titles, in [0,1]. Two empty strings are identical.
func TitleSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// TimeProximity scores how close two start instants are within the match
// window: 1 at the same minute, falling linearly to 0 at the window edge.
func TimeProximity(a, b time.Time, window time.Duration) float64 {
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}
	if delta >= window {
		return 0
	}
	return 1 - float64(delta)/float64(window)
}

// Weights of the combined confidence score. Title similarity dominates
// because start times on listing sites are noisy.
const (
	titleWeight = 0.7
	timeWeight  = 0.3
)

// Confidence combines title similarity and time proximity into the fuzzy
// match score.
func Confidence(titleSim, timeProx float64) float64 {
	return titleWeight*titleSim + timeWeight*timeProx
}
