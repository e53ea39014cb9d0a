package peer

import (
	"errors"
	"testing"

	"github.com/mossy-p/webrtc-device/internal/media/mediatest"
	"github.com/mossy-p/webrtc-device/internal/models"
)

const testCandidate = "candidate:1 1 udp 2130706431 192.168.1.20 50000 typ host"

func newSession(t *testing.T, role models.PeerRole) (*Session, *mediatest.Engine) {
	t.Helper()
	engine := mediatest.New(role)
	s, err := New(Config{Role: role, Engine: engine})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, engine
}

func TestNewRequiresEngine(t *testing.T) {
	if _, err := New(Config{Role: models.RolePublisher}); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}
}

func TestApplyPendingRemote(t *testing.T) {
	tests := []struct {
		name          string
		state         models.ConnectionState
		update        models.PendingRemoteUpdate
		wantRemote    int
		wantCandidate int
	}{
		{
			name:          "both before connect",
			state:         models.StateNew,
			update:        models.PendingRemoteUpdate{RemoteDescription: "v=0", ICECandidate: testCandidate},
			wantRemote:    1,
			wantCandidate: 1,
		},
		{
			name:          "candidate while checking",
			state:         models.StateChecking,
			update:        models.PendingRemoteUpdate{ICECandidate: testCandidate},
			wantCandidate: 1,
		},
		{
			name:       "candidate dropped when connected",
			state:      models.StateConnected,
			update:     models.PendingRemoteUpdate{RemoteDescription: "v=0", ICECandidate: testCandidate},
			wantRemote: 1,
		},
		{
			name:   "candidate dropped when completed",
			state:  models.StateCompleted,
			update: models.PendingRemoteUpdate{ICECandidate: testCandidate},
		},
		{
			name:  "nothing pending",
			state: models.StateNew,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, engine := newSession(t, models.RolePublisher)
			engine.SetState(tc.state)

			update := tc.update
			s.ApplyPendingRemote(&update)

			if !update.Empty() {
				t.Errorf("update not cleared: %+v", update)
			}
			if got := engine.Count(mediatest.MethodSetRemoteDescription); got != tc.wantRemote {
				t.Errorf("SetRemoteDescription calls = %d, want %d", got, tc.wantRemote)
			}
			if got := engine.Count(mediatest.MethodAddICECandidate); got != tc.wantCandidate {
				t.Errorf("AddICECandidate calls = %d, want %d", got, tc.wantCandidate)
			}
			for _, c := range engine.Calls() {
				if c.Method == mediatest.MethodAddICECandidate && c.State.Established() {
					t.Errorf("candidate applied in state %s", c.State)
				}
			}
		})
	}
}

func TestApplyPendingRemoteOrder(t *testing.T) {
	s, engine := newSession(t, models.RolePublisher)

	update := models.PendingRemoteUpdate{RemoteDescription: "v=0", ICECandidate: testCandidate}
	s.ApplyPendingRemote(&update)

	calls := engine.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Method != mediatest.MethodSetRemoteDescription || calls[1].Method != mediatest.MethodAddICECandidate {
		t.Fatalf("unexpected call order: %+v", calls)
	}
}

func TestApplyPendingRemoteAtMostOnce(t *testing.T) {
	s, engine := newSession(t, models.RolePublisher)

	update := models.PendingRemoteUpdate{RemoteDescription: "v=0"}
	s.ApplyPendingRemote(&update)
	s.ApplyPendingRemote(&update)

	if got := engine.Count(mediatest.MethodSetRemoteDescription); got != 1 {
		t.Fatalf("SetRemoteDescription calls = %d, want 1", got)
	}
}

func TestEvents(t *testing.T) {
	s, engine := newSession(t, models.RoleSubscriber)

	update := models.PendingRemoteUpdate{RemoteDescription: "v=0"}
	s.ApplyPendingRemote(&update)
	engine.SetState(models.StateChecking)

	ev := <-s.Events()
	if ev.Kind != EventLocalDescription || ev.SDP != mediatest.LocalDescription(models.RoleSubscriber) {
		t.Fatalf("unexpected first event: %+v", ev)
	}
	ev = <-s.Events()
	if ev.Kind != EventStateChange || ev.State != models.StateChecking {
		t.Fatalf("unexpected second event: %+v", ev)
	}
}

func TestCloseUnblocksCallbacks(t *testing.T) {
	engine := mediatest.New(models.RolePublisher)
	s, err := New(Config{Role: models.RolePublisher, Engine: engine, EventBuffer: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	engine.SetState(models.StateChecking)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Buffer is full; emit must return because the session is closed.
	engine.SetState(models.StateConnected)

	if !engine.Closed() {
		t.Fatal("engine not closed")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
