package webrtc

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
)

var errNoCandidatePair = errors.New("no succeeded candidate pair")

const relayCandidate = "relay"

// classify picks the nominated, succeeded candidate pair and describes the
// path it uses.
func classify(report webrtc.StatsReport) (transport.Stats, error) {
	var (
		selected  webrtc.ICECandidatePairStats
		found     bool
		nominated bool
	)
	candidates := make(map[string]webrtc.ICECandidateStats)

	for _, s := range report {
		switch v := s.(type) {
		case webrtc.ICECandidatePairStats:
			if v.State != webrtc.StatsICECandidatePairStateSucceeded {
				continue
			}
			if !found || (v.Nominated && !nominated) {
				selected, found, nominated = v, true, v.Nominated
			}
		case webrtc.ICECandidateStats:
			candidates[v.ID] = v
		}
	}

	if !found {
		return transport.Stats{}, errNoCandidatePair
	}

	local := candidates[selected.LocalCandidateID]
	remote := candidates[selected.RemoteCandidateID]

	stats := transport.Stats{
		LocalCandidateType:  local.CandidateType.String(),
		RemoteCandidateType: remote.CandidateType.String(),
		Protocol:            local.Protocol,
		RoundTripTime:       time.Duration(selected.CurrentRoundTripTime * float64(time.Second)),
	}
	stats.Relayed = stats.LocalCandidateType == relayCandidate || stats.RemoteCandidateType == relayCandidate
	return stats, nil
}
