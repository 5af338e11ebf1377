package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/wagerline/sync_core/internal/domain/order"
	"github.com/wagerline/sync_core/internal/domain/reaction"
	"github.com/wagerline/sync_core/internal/remote"
)

type fakeRemote struct{}

func (f *fakeRemote) Invoke(ctx context.Context, name string, payload any, key string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeRemote) FetchRow(ctx context.Context, table, id string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeRemote) UpdateRow(ctx context.Context, table, id string, fields map[string]any, key string) error {
	return nil
}

func (f *fakeRemote) UploadObject(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	return bucket + "/" + path, nil
}

// fakeStream is both a change stream and a lifecycle-managed service.
type fakeStream struct {
	mu       sync.Mutex
	handlers map[string][]func(remote.Event)
	started  bool
	stopped  bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{handlers: make(map[string][]func(remote.Event))}
}

func (f *fakeStream) Name() string { return "fake-stream" }

func (f *fakeStream) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeStream) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeStream) Subscribe(table string, handler func(remote.Event)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[table] = append(f.handlers[table], handler)
	return func() {}, nil
}

func (f *fakeStream) OnReconnect(fn func()) {}

func (f *fakeStream) emit(event remote.Event) {
	f.mu.Lock()
	handlers := append([]func(remote.Event){}, f.handlers[event.Table]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(event)
	}
}

func (f *fakeStream) tables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.handlers))
	for t := range f.handlers {
		out = append(out, t)
	}
	return out
}

func TestNewRequiresRemote(t *testing.T) {
	if _, err := New(Options{}, nil); err == nil {
		t.Fatalf("expected error without a remote service")
	}
}

func TestNewWithoutStreamDisablesBus(t *testing.T) {
	a, err := New(Options{Remote: &fakeRemote{}}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Bus != nil {
		t.Fatalf("bus must be nil without a stream")
	}
	if a.Dispatcher == nil || a.Fulfillment == nil || a.Resolution == nil || a.Quota == nil {
		t.Fatalf("core services must be built regardless of stream")
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStreamSubscriptionsAndLifecycle(t *testing.T) {
	stream := newFakeStream()
	a, err := New(Options{Remote: &fakeRemote{}, Stream: stream}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Bus == nil {
		t.Fatalf("bus must be wired when a stream is present")
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(ctx)

	if !stream.started {
		t.Fatalf("stream must be lifecycle-managed")
	}

	subscribed := map[string]bool{}
	for _, tbl := range stream.tables() {
		subscribed[tbl] = true
	}
	if !subscribed[remote.TableCoupons] || !subscribed[remote.TableOrders] || !subscribed[remote.TableProofs] {
		t.Fatalf("subscribed tables = %v", stream.tables())
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !stream.stopped {
		t.Fatalf("stream must be stopped with the application")
	}
}

func TestOrderEventsReconcileTrackedOrders(t *testing.T) {
	stream := newFakeStream()
	a, err := New(Options{Remote: &fakeRemote{}, Stream: stream}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(ctx)

	stream.emit(remote.Event{
		Table: remote.TableOrders,
		Type:  remote.EventUpdated,
		Row:   json.RawMessage(`{"id":"o1","user_id":"u1","reward_id":"r1","status":"shipped","tracking_code":"TRK-9"}`),
	})

	got, ok := a.Fulfillment.Order("o1")
	if !ok {
		t.Fatalf("order not tracked after event")
	}
	if got.Status != order.StatusShipped || got.TrackingCode != "TRK-9" {
		t.Fatalf("got = %+v", got)
	}

	// Deletes and empty payloads are ignored, not errors.
	stream.emit(remote.Event{Table: remote.TableOrders, Type: remote.EventDeleted})
	if _, ok := a.Fulfillment.Order("o1"); !ok {
		t.Fatalf("delete event must not drop tracked state")
	}
}

func TestProofEventsReconcileReactions(t *testing.T) {
	stream := newFakeStream()
	a, err := New(Options{Remote: &fakeRemote{}, Stream: stream}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(ctx)

	stream.emit(remote.Event{
		Table: remote.TableProofs,
		Type:  remote.EventUpdated,
		Row:   json.RawMessage(`{"id":"p1","reaction_counts":{"fire":3},"my_reaction":"fire"}`),
	})

	e, ok := a.Reactions.Entity("p1")
	if !ok {
		t.Fatalf("entity not tracked after event")
	}
	if e.Counts["fire"] != 3 || string(e.MyTag) != "fire" {
		t.Fatalf("entity = %+v", e)
	}
}

func TestCouponEventsLeaveReactionStateAlone(t *testing.T) {
	stream := newFakeStream()
	a, err := New(Options{Remote: &fakeRemote{}, Stream: stream}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(ctx)

	a.Reactions.Seed(reaction.Entity{
		ID:     "p1",
		Counts: map[reaction.Tag]int{"like": 7},
		MyTag:  "like",
	})

	// A settlement update on a coupon carries no reaction columns and must
	// not disturb tracked reaction state.
	stream.emit(remote.Event{
		Table: remote.TableCoupons,
		Type:  remote.EventUpdated,
		Row:   json.RawMessage(`{"id":"p1","result":"yes","is_open":false}`),
	})

	e, ok := a.Reactions.Entity("p1")
	if !ok {
		t.Fatalf("entity dropped")
	}
	if e.Counts["like"] != 7 || string(e.MyTag) != "like" {
		t.Fatalf("entity = %+v, want counts untouched", e)
	}
}
