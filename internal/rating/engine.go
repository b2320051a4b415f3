// Package rating implements standard ELO math for two-player matches.
// All functions are pure; persistence of the resulting deltas is the
// caller's concern.
package rating

import "math"

// KFactor bounds the maximum rating swing of a single match.
const KFactor = 32

// Score values for the three possible outcomes of a match.
const (
	ScoreLoss = 0.0
	ScoreDraw = 0.5
	ScoreWin  = 1.0
)

// Expected returns the expected score of a player rated a against an
// opponent rated b. Expected(a,b) + Expected(b,a) == 1.
func Expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Delta computes the rating change for actor after scoring score
// (0, 0.5 or 1) against opponent, rounded to the nearest integer.
func Delta(actor, opponent int, score float64) int {
	return int(math.Round(KFactor * (score - Expected(actor, opponent))))
}

// WinLoseDeltas returns the winner's gain and the loser's loss.
func WinLoseDeltas(winnerRating, loserRating int) (winnerDelta, loserDelta int) {
	return Delta(winnerRating, loserRating, ScoreWin), Delta(loserRating, winnerRating, ScoreLoss)
}

// DrawDeltas returns both players' deltas for a drawn match.
func DrawDeltas(a, b int) (deltaA, deltaB int) {
	return Delta(a, b, ScoreDraw), Delta(b, a, ScoreDraw)
}
