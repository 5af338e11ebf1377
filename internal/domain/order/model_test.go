package order

import "testing"

func TestNextFollowsHappyPath(t *testing.T) {
	path := []Status{StatusNew, StatusContacted, StatusPreparing, StatusShipped, StatusDelivered}
	for i := 0; i < len(path)-1; i++ {
		next, ok := Next(path[i])
		if !ok {
			t.Fatalf("no successor for %s", path[i])
		}
		if next != path[i+1] {
			t.Fatalf("successor of %s = %s, want %s", path[i], next, path[i+1])
		}
	}
}

func TestTerminalStatesHaveNoSuccessor(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled, StatusRefunded} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if _, ok := Next(s); ok {
			t.Fatalf("%s should have no successor", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNew, StatusContacted, true},
		{StatusNew, StatusPreparing, false},
		{StatusPreparing, StatusShipped, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusShipped, StatusRefunded, true},
		{StatusNew, StatusDelivered, true},       // shortcut
		{StatusContacted, StatusDelivered, true}, // shortcut
		{StatusPreparing, StatusDelivered, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusRefunded, false},
		{StatusRefunded, StatusNew, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanShortcut(t *testing.T) {
	if !CanShortcut(StatusNew) || !CanShortcut(StatusContacted) {
		t.Fatalf("new and contacted should allow the shortcut")
	}
	for _, s := range []Status{StatusPreparing, StatusShipped, StatusDelivered, StatusCancelled} {
		if CanShortcut(s) {
			t.Fatalf("%s should not allow the shortcut", s)
		}
	}
}
