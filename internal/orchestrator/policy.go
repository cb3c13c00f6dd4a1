package orchestrator

import "edge-agent/internal/peers"

// Policy weights for peer scoring: queued work costs 10 ms-equivalents,
// actively-running work costs 30 ms-equivalents. Adjustable policy
// constants, not invariants.
const (
	inFlightWeightMS = 30.0
	queueLenWeightMS = 10.0
)

// PickTargetForFine returns the URL of the lowest-scoring eligible peer,
// or "" if none are eligible. Eligibility is OK=true; score is
// rtt + avg_fine_ms + 30*in_flight + 10*queue_len, lower is better. Go's
// map iteration order is randomized, so ties are broken by the
// lexicographically smallest URL, which keeps the result deterministic
// for a given snapshot.
func PickTargetForFine(snapshot map[string]peers.State) string {
	best := ""
	bestScore := 0.0
	haveBest := false

	for url, p := range snapshot {
		if !p.OK {
			continue
		}
		score := p.LastRTTMS + p.AvgMS["fine"] + inFlightWeightMS*float64(p.InFlight) + queueLenWeightMS*float64(p.QueueLen)
		if !haveBest || score < bestScore || (score == bestScore && url < best) {
			haveBest = true
			bestScore = score
			best = url
		}
	}
	return best
}
