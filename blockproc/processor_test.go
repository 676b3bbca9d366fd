package blockproc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/blocksql/osql"
	"github.com/blocksql/osql/session"
)

type fakeApplier struct {
	mu        sync.Mutex
	applied   []session.OpRecord
	validated []uint64
	committed int

	applyErr    error
	validateErr error
	commitErr   error
}

func (f *fakeApplier) ApplyOp(_ context.Context, _ osql.SessionKey, op session.OpRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, op)
	return nil
}

func (f *fakeApplier) ValidateGenid(_ context.Context, _ string, _ int, genid uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validateErr != nil {
		return f.validateErr
	}
	f.validated = append(f.validated, genid)
	return nil
}

func (f *fakeApplier) Commit(context.Context, osql.SessionKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed++
	return nil
}

func setup(t *testing.T) (*session.Repository, context.Context) {
	t.Helper()
	return session.NewRepository(session.RepositoryConfig{Node: "n1"}), context.Background()
}

func TestProcessor_AppliesAndCompletesSuccess(t *testing.T) {
	r, ctx := setup(t)
	f := &fakeApplier{}
	p := NewProcessor(ctx, f, 2)

	s, _, err := r.Create(ctx, session.Config{Rqid: 50})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for seq := uint64(1); seq <= 3; seq++ {
		r.ReceiveOp(ctx, s.Key(), session.OpRecord{Seq: seq, Kind: session.OpInsert, Table: "t", Genid: seq})
	}
	r.ReceiveOp(ctx, s.Key(), session.OpRecord{Seq: 4, Kind: session.OpSelectv, Table: "t", Genid: 99})

	if err := p.Dispatch(ctx, s); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	xerr, err := s.WaitComplete(ctx)
	if err != nil {
		t.Fatalf("WaitComplete failed: %v", err)
	}
	if !xerr.IsOK() {
		t.Fatalf("completion = %+v, expected success", xerr)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("processor Close failed: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.applied) != 4 {
		t.Errorf("applier saw %d ops, expected 4", len(f.applied))
	}
	if len(f.validated) != 1 || f.validated[0] != 99 {
		t.Errorf("validated genids = %v, expected [99]", f.validated)
	}
	if f.committed != 1 {
		t.Errorf("committed %d times, expected 1", f.committed)
	}
	r.Close(ctx, s, false)
}

func TestProcessor_ApplierErrorSurfacedVerbatim(t *testing.T) {
	r, ctx := setup(t)
	f := &fakeApplier{commitErr: errors.New("constraint violation on t")}
	p := NewProcessor(ctx, f, 1)

	s, _, err := r.Create(ctx, session.Config{Rqid: 51})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	r.ReceiveOp(ctx, s.Key(), session.OpRecord{Seq: 1, Kind: session.OpUpdate, Table: "t"})

	if err := p.Dispatch(ctx, s); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	xerr, err := s.WaitComplete(ctx)
	if err != nil {
		t.Fatalf("WaitComplete failed: %v", err)
	}
	if xerr.Code != osql.ErrstatTran || xerr.Msg != "constraint violation on t" {
		t.Errorf("completion = %+v, expected verbatim transaction error", xerr)
	}
	p.Close()
	r.Close(ctx, s, false)
}

func TestProcessor_GenidValidationFailureAborts(t *testing.T) {
	r, ctx := setup(t)
	f := &fakeApplier{validateErr: osql.Errorf(osql.LockFailure, "genid 7 moved")}
	p := NewProcessor(ctx, f, 1)

	s, _, err := r.Create(ctx, session.Config{Rqid: 52})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	r.ReceiveOp(ctx, s.Key(), session.OpRecord{Seq: 1, Kind: session.OpSelectv, Table: "t", Genid: 7})

	if err := p.Dispatch(ctx, s); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	xerr, err := s.WaitComplete(ctx)
	if err != nil {
		t.Fatalf("WaitComplete failed: %v", err)
	}
	if xerr.IsOK() {
		t.Fatalf("completion succeeded despite failed genid validation")
	}
	f.mu.Lock()
	committed := f.committed
	f.mu.Unlock()
	if committed != 0 {
		t.Errorf("committed despite failed genid validation")
	}
	p.Close()
	r.Close(ctx, s, false)
}

func TestProcessor_DispatchTwiceIsAlreadyHandled(t *testing.T) {
	r, ctx := setup(t)
	p := NewProcessor(ctx, &fakeApplier{}, 1)

	s, _, err := r.Create(ctx, session.Config{Rqid: 53})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := p.Dispatch(ctx, s); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if err := p.Dispatch(ctx, s); !osql.IsCode(err, osql.AlreadyHandled) {
		t.Errorf("second Dispatch returned %v, expected AlreadyHandled", err)
	}
	s.WaitComplete(ctx)
	p.Close()
	r.Close(ctx, s, false)
}
