package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/domain/order"
	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/notify"
)

type fakeRemote struct {
	mu      sync.Mutex
	invokes []string
	err     error
}

func (f *fakeRemote) Invoke(_ context.Context, name string, _ any, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	f.invokes = append(f.invokes, name)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeRemote) FetchRow(context.Context, string, string) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRemote) UpdateRow(context.Context, string, string, map[string]any, string) error {
	return errors.New("not implemented")
}

func (f *fakeRemote) UploadObject(context.Context, string, string, []byte, string) (string, error) {
	return "", errors.New("not implemented")
}

func newService(remoteSvc *fakeRemote, notifier *notify.Memory) *Service {
	var n notify.Notifier
	if notifier != nil {
		n = notifier
	}
	return New(dispatch.New(remoteSvc, nil, nil), n, nil)
}

func TestAdvanceWalksHappyPath(t *testing.T) {
	remoteSvc := &fakeRemote{}
	notifier := notify.NewMemory()
	s := newService(remoteSvc, notifier)
	s.Seed(order.Order{ID: "o1", UserID: "u1", Status: order.StatusNew})

	want := []order.Status{order.StatusContacted, order.StatusPreparing, order.StatusShipped, order.StatusDelivered}
	for _, expected := range want {
		got, err := s.Advance(context.Background(), "o1")
		if err != nil {
			t.Fatalf("advance to %s: %v", expected, err)
		}
		if got.Status != expected {
			t.Fatalf("status = %s, want %s", got.Status, expected)
		}
	}

	if len(notifier.Sent()) != len(want) {
		t.Fatalf("notifications = %d, want %d", len(notifier.Sent()), len(want))
	}
}

func TestAdvanceFromTerminalFailsPrecondition(t *testing.T) {
	s := newService(&fakeRemote{}, nil)
	s.Seed(order.Order{ID: "o1", Status: order.StatusDelivered})

	_, err := s.Advance(context.Background(), "o1")
	if !errors.Is(err, fault.ErrPreconditionFailed) {
		t.Fatalf("err = %v, want precondition failure", err)
	}
}

func TestCancelFromAnyNonTerminal(t *testing.T) {
	for _, from := range []order.Status{order.StatusNew, order.StatusContacted, order.StatusPreparing, order.StatusShipped} {
		s := newService(&fakeRemote{}, nil)
		s.Seed(order.Order{ID: "o1", Status: from})

		got, err := s.Cancel(context.Background(), "o1")
		if err != nil {
			t.Fatalf("cancel from %s: %v", from, err)
		}
		if got.Status != order.StatusCancelled {
			t.Fatalf("status = %s", got.Status)
		}
	}
}

func TestRefundFromTerminalRejected(t *testing.T) {
	for _, from := range []order.Status{order.StatusDelivered, order.StatusCancelled, order.StatusRefunded} {
		s := newService(&fakeRemote{}, nil)
		s.Seed(order.Order{ID: "o1", Status: from})

		if _, err := s.Refund(context.Background(), "o1"); !errors.Is(err, fault.ErrPreconditionFailed) {
			t.Fatalf("refund from %s: err = %v, want precondition failure", from, err)
		}
	}
}

func TestContactAndComplete(t *testing.T) {
	remoteSvc := &fakeRemote{}
	notifier := notify.NewMemory()
	s := newService(remoteSvc, notifier)
	s.Seed(order.Order{ID: "o1", UserID: "u1", Status: order.StatusNew})

	got, err := s.ContactAndComplete(context.Background(), "o1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != order.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got.Status)
	}

	// One remote transition, one delivered notification; no intermediate
	// statuses on the wire.
	if len(remoteSvc.invokes) != 1 {
		t.Fatalf("invokes = %v, want a single status command", remoteSvc.invokes)
	}
	sent := notifier.Sent()
	if len(sent) != 1 || sent[0].Payload["status"] != string(order.StatusDelivered) {
		t.Fatalf("sent = %+v, want one delivered notification", sent)
	}
}

func TestContactAndCompleteRejectedPastContacted(t *testing.T) {
	s := newService(&fakeRemote{}, nil)
	s.Seed(order.Order{ID: "o1", Status: order.StatusShipped})

	if _, err := s.ContactAndComplete(context.Background(), "o1"); !errors.Is(err, fault.ErrPreconditionFailed) {
		t.Fatalf("err = %v, want precondition failure", err)
	}
}

func TestTransitionRollbackSkipsNotification(t *testing.T) {
	remoteSvc := &fakeRemote{err: fault.Definite("set_order_status", errors.New("stale status"))}
	notifier := notify.NewMemory()
	s := newService(remoteSvc, notifier)
	s.Seed(order.Order{ID: "o1", UserID: "u1", Status: order.StatusNew})

	got, err := s.Advance(context.Background(), "o1")
	if !fault.IsDefinite(err) {
		t.Fatalf("err = %v, want definite", err)
	}
	if got.Status != order.StatusNew {
		t.Fatalf("status = %s, want rollback to new", got.Status)
	}
	if len(notifier.Sent()) != 0 {
		t.Fatalf("rollback must not notify the owner")
	}
}

func TestTransitionAmbiguousKeepsStateWithoutNotifying(t *testing.T) {
	remoteSvc := &fakeRemote{err: fault.Ambiguous("set_order_status", "", errors.New("timeout"))}
	notifier := notify.NewMemory()
	s := newService(remoteSvc, notifier)
	s.Seed(order.Order{ID: "o1", Status: order.StatusNew})

	got, err := s.Advance(context.Background(), "o1")
	if !fault.IsAmbiguous(err) {
		t.Fatalf("err = %v, want ambiguous", err)
	}
	if got.Status != order.StatusContacted {
		t.Fatalf("status = %s, ambiguous failure must keep optimistic state", got.Status)
	}
	// Confirmation is unknown, so no notification either.
	if len(notifier.Sent()) != 0 {
		t.Fatalf("unconfirmed transition must not notify")
	}
}

func TestUpdateFieldNotifiesOnlyWhenAsked(t *testing.T) {
	remoteSvc := &fakeRemote{}
	notifier := notify.NewMemory()
	s := newService(remoteSvc, notifier)
	s.Seed(order.Order{ID: "o1", UserID: "u1", Status: order.StatusShipped})

	got, err := s.UpdateField(context.Background(), "o1", FieldInternalNote, "fragile", false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.InternalNote != "fragile" {
		t.Fatalf("internal note = %q", got.InternalNote)
	}
	if len(notifier.Sent()) != 0 {
		t.Fatalf("internal update must stay silent")
	}

	if _, err := s.UpdateField(context.Background(), "o1", FieldTrackingCode, "TRK-1", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(notifier.Sent()) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.Sent()))
	}
}

func TestUpdateFieldUnknownField(t *testing.T) {
	s := newService(&fakeRemote{}, nil)
	s.Seed(order.Order{ID: "o1"})
	if _, err := s.UpdateField(context.Background(), "o1", "carrier", "x", false); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestReconcileRowOverwritesLocalState(t *testing.T) {
	s := newService(&fakeRemote{}, nil)
	s.Seed(order.Order{ID: "o1", Status: order.StatusNew})

	row := json.RawMessage(`{"id":"o1","user_id":"u1","status":"shipped","tracking_code":"TRK-9"}`)
	if err := s.ReconcileRow(row); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, _ := s.Order("o1")
	if got.Status != order.StatusShipped || got.TrackingCode != "TRK-9" {
		t.Fatalf("got = %+v", got)
	}
}

func TestUnknownOrderRejected(t *testing.T) {
	s := newService(&fakeRemote{}, nil)
	if _, err := s.Advance(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for untracked order")
	}
}
