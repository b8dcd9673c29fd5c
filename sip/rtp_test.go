package sip

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/agentplexus/voiceagent"
)

func newTestSession(txCap int) *Session {
	log := logrus.New()
	log.SetOutput(testDiscard{})
	return &Session{
		callID: "call-1",
		tx:     make(chan voiceagent.Frame, txCap),
		rx:     make(chan voiceagent.Frame, txCap),
		log:    log,
	}
}

type testDiscard struct{}

func (testDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestSessionDrainTXEmptiesQueue(t *testing.T) {
	s := newTestSession(10)
	for i := 0; i < 5; i++ {
		s.tx <- voiceagent.Frame{Samples: []int16{int16(i)}, Rate: 48000}
	}

	s.DrainTX()

	select {
	case f := <-s.tx:
		t.Fatalf("expected empty tx queue after DrainTX, got %+v", f)
	default:
	}
}

func TestSessionPushTXDropsOldestOnOverflow(t *testing.T) {
	s := newTestSession(2)

	s.PushTX(voiceagent.Frame{Samples: []int16{1}, Rate: 48000})
	s.PushTX(voiceagent.Frame{Samples: []int16{2}, Rate: 48000})
	s.PushTX(voiceagent.Frame{Samples: []int16{3}, Rate: 48000})

	if len(s.tx) != 2 {
		t.Fatalf("expected queue to stay at capacity 2, got %d", len(s.tx))
	}

	first := <-s.tx
	if first.Samples[0] != 2 {
		t.Fatalf("expected oldest frame (1) dropped, kept queue starting at 2, got %d", first.Samples[0])
	}
	second := <-s.tx
	if second.Samples[0] != 3 {
		t.Fatalf("expected newest frame (3) retained, got %d", second.Samples[0])
	}
}

func TestSessionPushTXWarnsOncePastHalf(t *testing.T) {
	s := newTestSession(4) // half capacity = 2

	s.PushTX(voiceagent.Frame{Samples: []int16{0}, Rate: 48000})
	if s.tx50Warned {
		t.Fatalf("did not expect warning below half capacity")
	}

	s.PushTX(voiceagent.Frame{Samples: []int16{1}, Rate: 48000})
	if !s.tx50Warned {
		t.Fatalf("expected warning flag set once queue reached half capacity")
	}

	<-s.tx
	<-s.tx
	if !s.tx50Warned {
		t.Fatalf("expected warning flag unaffected by draining alone")
	}

	s.PushTX(voiceagent.Frame{Samples: []int16{2}, Rate: 48000})
	if s.tx50Warned {
		t.Fatalf("expected warning flag reset once occupancy dropped back under half before this push")
	}
}
