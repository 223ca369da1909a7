package statusserver

import "testing"

type fakeProvider struct {
	ready  bool
	status map[string]any
}

func (f fakeProvider) Status() map[string]any { return f.status }
func (f fakeProvider) Ready() bool            { return f.ready }

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	s := New(fakeProvider{}, 0)
	if s != nil {
		t.Fatal("want nil server for port <= 0")
	}
	// Start/Stop/Broadcast must be safe no-ops on a disabled server.
	s.Start()
	s.Broadcast(map[string]string{"x": "y"})
	if err := s.Stop(nil); err != nil {
		t.Fatalf("want nil error from Stop on disabled server, got %v", err)
	}
}

func TestNewBuildsServerWhenEnabled(t *testing.T) {
	s := New(fakeProvider{ready: true, status: map[string]any{"ok": true}}, 18080)
	if s == nil {
		t.Fatal("want non-nil server for port > 0")
	}
}
