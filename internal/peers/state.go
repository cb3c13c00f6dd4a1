package peers

// State is what the Peer Monitor knows about one configured peer agent,
// refreshed by the health-probe loop. A State seeded by newState (before
// the first successful probe) has OK=false and LastRTTMS at the default
// worst-case value below, so a never-seen peer never wins the picker.
type State struct {
	URL         string             `json:"url"`
	LastRTTMS   float64            `json:"rtt_ms"`
	LastSeenTS  float64            `json:"last_seen_ts"`
	NodeID      string             `json:"node_id"`
	NodeType    string             `json:"node_type"`
	AvgMS       map[string]float64 `json:"avg_ms"`
	InFlight    int                `json:"in_flight"`
	QueueLen    int                `json:"queue_len"`
	OK          bool               `json:"ok"`
}

// defaultRTTMS is the RTT assigned to a peer before its first probe
// completes, large enough that it never wins the picker over a peer that
// has actually answered.
const defaultRTTMS = 9999.0

func newState(url string) *State {
	return &State{URL: url, LastRTTMS: defaultRTTMS, AvgMS: map[string]float64{}}
}
