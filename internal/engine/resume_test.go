package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/connector"
	"github.com/cyberguard/soar-engine/internal/model"
)

func approvalPlaybook(onApproved, onRejected, onTimeout string) *model.Playbook {
	return &model.Playbook{
		ID: "PB-RESUME", Enabled: true,
		Steps: []model.Step{
			{
				StepID: "appr-1", Type: model.StepApproval,
				Approval: &model.ApprovalSpec{
					Approvers: []string{"sec-team"}, TimeoutHours: 1,
					OnApproved: onApproved, OnRejected: onRejected, OnTimeout: onTimeout,
				},
			},
			{StepID: "step-after", Type: model.StepAction, OnSuccess: model.SuccessAction{Mode: model.SuccessEnd},
				Connector: &model.ConnectorSpec{ConnectorID: "conn-after", ActionType: "x"}},
		},
	}
}

func waitingExec(id, playbookID string, now time.Time) *model.Execution {
	exec := newExec(id, playbookID, now)
	exec.State = model.ExecWaitingApproval
	exec.ApprovalID = "APR-" + id
	since := now
	exec.WaitingApprovalSince = &since
	exec.StepResultByID("appr-1").State = model.StepExecuting
	return exec
}

func TestResumeFromApproval_ApprovedAdvancesToNextStep(t *testing.T) {
	pb := approvalPlaybook("step-after", "", "")
	registry := connectorRegistryWith("conn-after", &fakeConnector{output: map[string]any{}})
	eng, repo := newTestEngine(t, pb, registry)

	now := time.Now()
	exec := waitingExec("EXEC-R1", pb.ID, now)
	repo.saved[exec.ID] = exec

	decidedAt := now.Add(time.Minute)
	err := eng.ResumeFromApproval(context.Background(), exec.ID, "appr-1", model.DecisionApproved, "operator-1", decidedAt)
	require.NoError(t, err)

	// Resume hands the execution back to the worker pool rather than
	// driving step-after inline (spec §5 "release the worker during
	// WAITING_APPROVAL").
	assert.Equal(t, model.ExecExecuting, exec.State)
	assert.Equal(t, "step-after", exec.CurrentStep)
	assert.Equal(t, model.StepCompleted, exec.Steps[0].State)
	assert.Nil(t, exec.WaitingApprovalSince)
	assert.True(t, exec.WaitingApprovalTotal > 0)

	// Driving the execution further (as the worker pool would) completes it.
	err = eng.Drive(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, model.ExecCompleted, exec.State)
}

func TestResumeFromApproval_RejectedFailsExecution(t *testing.T) {
	pb := approvalPlaybook("step-after", "", "")
	eng, repo := newTestEngine(t, pb, connectorRegistryWith("conn-after", &fakeConnector{output: map[string]any{}}))

	now := time.Now()
	exec := waitingExec("EXEC-R2", pb.ID, now)
	repo.saved[exec.ID] = exec

	err := eng.ResumeFromApproval(context.Background(), exec.ID, "appr-1", model.DecisionRejected, "operator-2", now.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, model.ExecFailed, exec.State)
	require.NotNil(t, exec.Error)
	assert.Equal(t, string(model.ErrApprovalRejected), exec.Error.Code)
}

func TestResumeFromApproval_TimeoutAppliesConfiguredPolicy(t *testing.T) {
	pb := approvalPlaybook("step-after", "", "continue")
	eng, repo := newTestEngine(t, pb, connectorRegistryWith("conn-after", &fakeConnector{output: map[string]any{}}))

	now := time.Now()
	exec := waitingExec("EXEC-R3", pb.ID, now)
	repo.saved[exec.ID] = exec

	err := eng.ResumeFromApproval(context.Background(), exec.ID, "appr-1", model.DecisionTimedOut, "", now.Add(time.Hour))
	require.NoError(t, err)

	// on_timeout: continue hands the execution to "step-after" but does not
	// drive it inline; that happens on the worker's next claim.
	assert.Equal(t, model.ExecExecuting, exec.State)
	assert.Equal(t, "step-after", exec.CurrentStep)
	assert.Equal(t, model.StepFailed, exec.Steps[0].State)
}

func TestResumeFromApproval_AlreadyTerminalIsNoop(t *testing.T) {
	pb := approvalPlaybook("step-after", "", "")
	eng, repo := newTestEngine(t, pb, connectorRegistryWith("conn-after", &fakeConnector{output: map[string]any{}}))

	now := time.Now()
	exec := waitingExec("EXEC-R4", pb.ID, now)
	exec.State = model.ExecCompleted
	repo.saved[exec.ID] = exec

	err := eng.ResumeFromApproval(context.Background(), exec.ID, "appr-1", model.DecisionApproved, "operator-3", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.ExecCompleted, exec.State)
}

func connectorRegistryWith(id string, c connector.Connector) *connector.Registry {
	r := connector.NewRegistry()
	r.Register(id, c)
	return r
}
