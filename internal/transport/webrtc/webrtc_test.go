package webrtc

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
)

func TestConfigurationDefaults(t *testing.T) {
	config := Configuration(nil)

	if len(config.ICEServers) != 1 {
		t.Fatalf("expected 1 ICE server group, got %d", len(config.ICEServers))
	}
	if len(config.ICEServers[0].URLs) != 5 {
		t.Errorf("expected 5 STUN URLs, got %d", len(config.ICEServers[0].URLs))
	}
	if config.ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Errorf("expected ICETransportPolicyAll")
	}
}

func TestConfigurationCustomServers(t *testing.T) {
	config := Configuration([]string{"turn:relay.example.com:3478"})
	if got := config.ICEServers[0].URLs; len(got) != 1 || got[0] != "turn:relay.example.com:3478" {
		t.Errorf("expected custom server, got %v", got)
	}
}

func TestDataChannelConfig(t *testing.T) {
	tests := []struct {
		kind           transport.ChannelKind
		ordered        bool
		maxRetransmits *uint16
	}{
		{transport.Reliable, true, nil},
		{transport.Unordered, false, nil},
		{transport.Unreliable, false, new(uint16)},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			init := DataChannelConfig(tt.kind)
			if init.Ordered == nil || *init.Ordered != tt.ordered {
				t.Errorf("expected ordered=%v", tt.ordered)
			}
			switch {
			case tt.maxRetransmits == nil && init.MaxRetransmits != nil:
				t.Errorf("expected unlimited retransmits, got %d", *init.MaxRetransmits)
			case tt.maxRetransmits != nil && (init.MaxRetransmits == nil || *init.MaxRetransmits != *tt.maxRetransmits):
				t.Errorf("expected %d retransmits", *tt.maxRetransmits)
			}
		})
	}
}

func TestParseLabel(t *testing.T) {
	for _, kind := range transport.Channels {
		got, ok := transport.ParseLabel(kind.Label())
		if !ok || got != kind {
			t.Errorf("label %q: expected %s, got %s", kind.Label(), kind, got)
		}
	}
	if _, ok := transport.ParseLabel("data"); ok {
		t.Error("expected unknown label to be rejected")
	}
}

func statsReport(localType, remoteType webrtc.ICECandidateType, nominated bool) webrtc.StatsReport {
	return webrtc.StatsReport{
		"pair": webrtc.ICECandidatePairStats{
			ID:                   "pair",
			Type:                 webrtc.StatsTypeCandidatePair,
			LocalCandidateID:     "local",
			RemoteCandidateID:    "remote",
			State:                webrtc.StatsICECandidatePairStateSucceeded,
			Nominated:            nominated,
			CurrentRoundTripTime: 0.025,
		},
		"local": webrtc.ICECandidateStats{
			ID:            "local",
			Type:          webrtc.StatsTypeLocalCandidate,
			CandidateType: localType,
			Protocol:      "udp",
		},
		"remote": webrtc.ICECandidateStats{
			ID:            "remote",
			Type:          webrtc.StatsTypeRemoteCandidate,
			CandidateType: remoteType,
			Protocol:      "udp",
		},
	}
}

func TestClassifyDirect(t *testing.T) {
	stats, err := classify(statsReport(webrtc.ICECandidateTypeHost, webrtc.ICECandidateTypeSrflx, true))
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if stats.LocalCandidateType != "host" || stats.RemoteCandidateType != "srflx" {
		t.Errorf("unexpected candidate types %s/%s", stats.LocalCandidateType, stats.RemoteCandidateType)
	}
	if stats.Relayed {
		t.Error("expected direct path")
	}
	if stats.Protocol != "udp" {
		t.Errorf("expected udp, got %s", stats.Protocol)
	}
	if stats.RoundTripTime != 25*time.Millisecond {
		t.Errorf("expected 25ms RTT, got %s", stats.RoundTripTime)
	}
}

func TestClassifyRelayed(t *testing.T) {
	stats, err := classify(statsReport(webrtc.ICECandidateTypeHost, webrtc.ICECandidateTypeRelay, true))
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if !stats.Relayed {
		t.Error("expected relayed path")
	}
}

func TestClassifyPrefersNominated(t *testing.T) {
	report := statsReport(webrtc.ICECandidateTypeRelay, webrtc.ICECandidateTypeRelay, false)
	report["nominated"] = webrtc.ICECandidatePairStats{
		ID:                "nominated",
		Type:              webrtc.StatsTypeCandidatePair,
		LocalCandidateID:  "local2",
		RemoteCandidateID: "remote",
		State:             webrtc.StatsICECandidatePairStateSucceeded,
		Nominated:         true,
	}
	report["local2"] = webrtc.ICECandidateStats{
		ID:            "local2",
		Type:          webrtc.StatsTypeLocalCandidate,
		CandidateType: webrtc.ICECandidateTypeHost,
		Protocol:      "tcp",
	}

	stats, err := classify(report)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if stats.LocalCandidateType != "host" || stats.Protocol != "tcp" {
		t.Errorf("expected nominated pair, got %+v", stats)
	}
}

func TestClassifyNoPair(t *testing.T) {
	report := webrtc.StatsReport{
		"pair": webrtc.ICECandidatePairStats{
			ID:    "pair",
			State: webrtc.StatsICECandidatePairStateInProgress,
		},
	}
	if _, err := classify(report); err == nil {
		t.Error("expected error without a succeeded pair")
	}
}
