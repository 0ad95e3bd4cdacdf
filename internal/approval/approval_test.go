package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/model"
)

type fakeStore struct {
	approvals map[string]*model.Approval
}

func newFakeStore() *fakeStore {
	return &fakeStore{approvals: map[string]*model.Approval{}}
}

func (s *fakeStore) SaveApproval(ctx context.Context, a *model.Approval) error {
	s.approvals[a.ID] = a
	return nil
}
func (s *fakeStore) GetApproval(ctx context.Context, id string) (*model.Approval, error) {
	return s.approvals[id], nil
}
func (s *fakeStore) ListExpiredPending(ctx context.Context, asOf time.Time) ([]*model.Approval, error) {
	var out []*model.Approval
	for _, a := range s.approvals {
		if a.IsExpired(asOf) {
			out = append(out, a)
		}
	}
	return out, nil
}

type recordingResumer struct {
	calls []string
}

func (r *recordingResumer) ResumeFromApproval(ctx context.Context, executionID, stepID string, decision model.ApprovalDecision, decider string, decidedAt time.Time) error {
	r.calls = append(r.calls, executionID+":"+stepID+":"+string(decision))
	return nil
}

type recordingAuditor struct {
	events []*model.AuditEvent
}

func (a *recordingAuditor) SaveAuditEvent(ctx context.Context, e *model.AuditEvent) error {
	a.events = append(a.events, e)
	return nil
}

func TestDecide_ResolvesApprovalAndResumesExecution(t *testing.T) {
	store := newFakeStore()
	resumer := &recordingResumer{}
	mgr := New(store, resumer, nil)

	now := time.Now()
	_, err := mgr.Create(context.Background(), "APR-1", "EXE-1", "approve_block", []string{"analyst@x"}, "confirm block", 4, now)
	require.NoError(t, err)

	require.NoError(t, mgr.Decide(context.Background(), "APR-1", model.DecisionApproved, "analyst@x", now.Add(time.Minute)))

	saved := store.approvals["APR-1"]
	assert.Equal(t, model.DecisionApproved, saved.Decision)
	assert.Equal(t, "analyst@x", saved.Decider)
	require.NotNil(t, saved.DecidedAt)
	require.Len(t, resumer.calls, 1)
	assert.Equal(t, "EXE-1:approve_block:approved", resumer.calls[0])
}

func TestDecide_AlreadyDecidedFailsWithoutResuming(t *testing.T) {
	store := newFakeStore()
	resumer := &recordingResumer{}
	mgr := New(store, resumer, nil)

	now := time.Now()
	_, err := mgr.Create(context.Background(), "APR-1", "EXE-1", "approve_block", nil, "", 1, now)
	require.NoError(t, err)
	require.NoError(t, mgr.Decide(context.Background(), "APR-1", model.DecisionApproved, "a", now))

	err = mgr.Decide(context.Background(), "APR-1", model.DecisionRejected, "b", now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Len(t, resumer.calls, 1)
}

func TestDecide_UnknownApprovalFailsWithErrNotFound(t *testing.T) {
	mgr := New(newFakeStore(), &recordingResumer{}, nil)
	err := mgr.Decide(context.Background(), "APR-MISSING", model.DecisionApproved, "a", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecide_RecordsAuditEventWhenAuditorSet(t *testing.T) {
	store := newFakeStore()
	auditor := &recordingAuditor{}
	mgr := New(store, &recordingResumer{}, nil)
	mgr.Audit = auditor

	now := time.Now()
	_, err := mgr.Create(context.Background(), "APR-1", "EXE-1", "approve_block", nil, "", 1, now)
	require.NoError(t, err)
	require.NoError(t, mgr.Decide(context.Background(), "APR-1", model.DecisionApproved, "analyst@x", now))

	require.Len(t, auditor.events, 1)
	ev := auditor.events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "analyst@x", ev.Actor)
	assert.Equal(t, "approval.decide", ev.Action)
	assert.Equal(t, "APR-1", ev.Resource)
}

func TestSweepOnce_MarksExpiredApprovalsTimedOutAndResumes(t *testing.T) {
	store := newFakeStore()
	resumer := &recordingResumer{}
	mgr := New(store, resumer, nil)

	now := time.Now()
	_, err := mgr.Create(context.Background(), "APR-1", "EXE-1", "approve_block", nil, "", 0.0001, now.Add(-time.Hour))
	require.NoError(t, err)

	require.NoError(t, mgr.sweepOnce(context.Background(), now))

	saved := store.approvals["APR-1"]
	assert.Equal(t, model.DecisionTimedOut, saved.Decision)
	require.Len(t, resumer.calls, 1)
	assert.Equal(t, "EXE-1:approve_block:timed_out", resumer.calls[0])
}

func TestSweepOnce_LeavesNonExpiredApprovalsUntouched(t *testing.T) {
	store := newFakeStore()
	resumer := &recordingResumer{}
	mgr := New(store, resumer, nil)

	now := time.Now()
	_, err := mgr.Create(context.Background(), "APR-1", "EXE-1", "approve_block", nil, "", 4, now)
	require.NoError(t, err)

	require.NoError(t, mgr.sweepOnce(context.Background(), now))

	assert.True(t, store.approvals["APR-1"].IsPending())
	assert.Empty(t, resumer.calls)
}
