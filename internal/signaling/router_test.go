package signaling

import (
	"testing"
)

func candidate(c string) Signal { return Signal{Candidate: &ICECandidate{Candidate: c}} }

func TestRouterBuffersBeforeRegister(t *testing.T) {
	r := newRouter()
	r.signal("bob", candidate("early"))

	var got []string
	r.register("bob", func(s Signal) { got = append(got, s.Candidate.Candidate) })

	if len(got) != 1 || got[0] != "early" {
		t.Fatalf("flushed %v, want [early]", got)
	}
}

func TestRouterDropsStaleSignalsAfterCleanup(t *testing.T) {
	r := newRouter()
	r.register("bob", func(Signal) {})
	r.cleanup("bob")

	// Candidates trickling in after the link is up belong to the old connection.
	r.signal("bob", candidate("stale-1"))
	r.signal("bob", candidate("stale-2"))

	var got []string
	r.register("bob", func(s Signal) { got = append(got, s.Candidate.Candidate) })
	if len(got) != 0 {
		t.Fatalf("new connection received stale signals %v", got)
	}

	r.signal("bob", candidate("fresh"))
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("got %v, want [fresh]", got)
	}
}

func TestRouterInviteReopensBuffering(t *testing.T) {
	r := newRouter()
	invited := 0
	r.setInvite(func(string) { invited++ })
	r.register("bob", func(Signal) {})
	r.cleanup("bob")

	// A new invite precedes the offer of the next connection.
	r.invite("bob")
	r.signal("bob", candidate("offer"))

	var got []string
	r.register("bob", func(s Signal) { got = append(got, s.Candidate.Candidate) })
	if invited != 1 {
		t.Errorf("invite callback ran %d times, want 1", invited)
	}
	if len(got) != 1 || got[0] != "offer" {
		t.Fatalf("flushed %v, want [offer]", got)
	}
}
