package reactions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/domain/reaction"
	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/remote"
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

func newService(remoteSvc *fakeRemote) *Service {
	return New(dispatch.New(remoteSvc, nil, nil), nil)
}

func TestToggleAppliesTag(t *testing.T) {
	remoteSvc := &fakeRemote{}
	s := newService(remoteSvc)
	s.Seed(reaction.Entity{ID: "p1", Counts: map[reaction.Tag]int{}})

	ent, err := s.Toggle(context.Background(), "p1", reaction.TagLike)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if ent.MyTag != reaction.TagLike || ent.Counts[reaction.TagLike] != 1 {
		t.Fatalf("ent = %+v", ent)
	}
	if len(remoteSvc.invokes) != 1 || remoteSvc.invokes[0] != remote.CmdUpsertReaction {
		t.Fatalf("invokes = %v, want one upsert", remoteSvc.invokes)
	}
}

func TestToggleSameTagSendsRemove(t *testing.T) {
	remoteSvc := &fakeRemote{}
	s := newService(remoteSvc)
	s.Seed(reaction.Entity{ID: "p1", Counts: map[reaction.Tag]int{reaction.TagWow: 1}, MyTag: reaction.TagWow})

	ent, err := s.Toggle(context.Background(), "p1", reaction.TagWow)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if ent.MyTag != reaction.TagNone || ent.Counts[reaction.TagWow] != 0 {
		t.Fatalf("ent = %+v, want cleared tag", ent)
	}
	if len(remoteSvc.invokes) != 1 || remoteSvc.invokes[0] != remote.CmdRemoveReaction {
		t.Fatalf("invokes = %v, want one remove", remoteSvc.invokes)
	}
}

func TestToggleSwitchKeepsSingleActiveTag(t *testing.T) {
	remoteSvc := &fakeRemote{}
	s := newService(remoteSvc)
	s.Seed(reaction.Entity{ID: "p1", Counts: map[reaction.Tag]int{reaction.TagLike: 4}, MyTag: reaction.TagLike})

	ent, err := s.Toggle(context.Background(), "p1", reaction.TagDislike)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if ent.MyTag != reaction.TagDislike {
		t.Fatalf("MyTag = %q", ent.MyTag)
	}
	if ent.Counts[reaction.TagLike] != 3 || ent.Counts[reaction.TagDislike] != 1 {
		t.Fatalf("counts = %v", ent.Counts)
	}
	if ent.Total() != 4 {
		t.Fatalf("total = %d, switching must not change the total", ent.Total())
	}
}

func TestToggleRollsBackOnDefiniteFailure(t *testing.T) {
	remoteSvc := &fakeRemote{err: fault.Definite("upsert_reaction", errors.New("banned"))}
	s := newService(remoteSvc)
	s.Seed(reaction.Entity{ID: "p1", Counts: map[reaction.Tag]int{reaction.TagLike: 2}})

	ent, err := s.Toggle(context.Background(), "p1", reaction.TagLike)
	if !fault.IsDefinite(err) {
		t.Fatalf("err = %v, want definite", err)
	}
	if ent.MyTag != reaction.TagNone || ent.Counts[reaction.TagLike] != 2 {
		t.Fatalf("ent = %+v, want rollback to seeded state", ent)
	}
}

func TestToggleKeepsStateOnAmbiguousFailure(t *testing.T) {
	remoteSvc := &fakeRemote{err: fault.Ambiguous("upsert_reaction", "", errors.New("timeout"))}
	s := newService(remoteSvc)
	s.Seed(reaction.Entity{ID: "p1", Counts: map[reaction.Tag]int{}})

	ent, err := s.Toggle(context.Background(), "p1", reaction.TagLike)
	if !fault.IsAmbiguous(err) {
		t.Fatalf("err = %v, want ambiguous", err)
	}
	if ent.MyTag != reaction.TagLike || ent.Counts[reaction.TagLike] != 1 {
		t.Fatalf("ent = %+v, ambiguous failure must keep the optimistic state", ent)
	}
}

func TestToggleUnknownEntityStartsEmpty(t *testing.T) {
	remoteSvc := &fakeRemote{}
	s := newService(remoteSvc)

	ent, err := s.Toggle(context.Background(), "p9", reaction.TagWow)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if ent.ID != "p9" || ent.Counts[reaction.TagWow] != 1 {
		t.Fatalf("ent = %+v", ent)
	}
}

func TestToggleRejectsInvalidTag(t *testing.T) {
	remoteSvc := &fakeRemote{}
	s := newService(remoteSvc)
	if _, err := s.Toggle(context.Background(), "p1", reaction.Tag("meh")); err == nil {
		t.Fatalf("expected invalid tag error")
	}
	if len(remoteSvc.invokes) != 0 {
		t.Fatalf("invalid tag must not reach the remote")
	}
}

func TestReconcileRowOverwritesLocalState(t *testing.T) {
	remoteSvc := &fakeRemote{err: fault.Ambiguous("upsert_reaction", "", errors.New("timeout"))}
	s := newService(remoteSvc)
	s.Seed(reaction.Entity{ID: "p1", Counts: map[reaction.Tag]int{}})
	_, _ = s.Toggle(context.Background(), "p1", reaction.TagLike)

	row := json.RawMessage(`{"id":"p1","reaction_counts":{"like":10,"wow":2},"my_reaction":"wow"}`)
	if err := s.ReconcileRow(row); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	ent, _ := s.Entity("p1")
	if ent.MyTag != reaction.TagWow || ent.Counts[reaction.TagLike] != 10 || ent.Counts[reaction.TagWow] != 2 {
		t.Fatalf("ent = %+v, server state must win", ent)
	}
}

func TestReconcileRowIgnoresRowsWithoutReactionColumns(t *testing.T) {
	s := newService(&fakeRemote{})
	s.Seed(reaction.Entity{ID: "p1", Counts: map[reaction.Tag]int{reaction.TagLike: 7}, MyTag: reaction.TagLike})

	// Partial payload from an unrelated update: no reaction columns.
	row := json.RawMessage(`{"id":"p1","result":"yes","is_open":false}`)
	if err := s.ReconcileRow(row); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	ent, _ := s.Entity("p1")
	if ent.Counts[reaction.TagLike] != 7 || ent.MyTag != reaction.TagLike {
		t.Fatalf("ent = %+v, partial payload must not touch aggregates", ent)
	}
}

func TestReconcileRowRejectsMissingID(t *testing.T) {
	s := newService(&fakeRemote{})
	if err := s.ReconcileRow(json.RawMessage(`{"reaction_counts":{}}`)); err == nil {
		t.Fatalf("expected error for row without id")
	}
}
