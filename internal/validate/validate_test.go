package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyberguard/soar-engine/internal/model"
)

func basicPlaybook() *model.Playbook {
	return &model.Playbook{
		ID:      "PB-1",
		Name:    "contain-and-notify",
		Version: "1.0.0",
		Steps: []model.Step{
			{
				StepID:    "enrich_ip",
				Type:      model.StepEnrichment,
				Connector: &model.ConnectorSpec{ConnectorID: "virustotal", ActionType: "lookup_ip"},
				OnSuccess: model.SuccessAction{Mode: model.SuccessContinue},
				OnFailure: model.FailureStop,
			},
			{
				StepID: "check_malicious",
				Type:   model.StepCondition,
				Condition: &model.ConditionSpec{
					Field: "steps.enrich_ip.output.malicious", Operator: model.OpEquals, Value: true,
					OnTrue: "block_ip", OnFalse: model.EndSentinel,
				},
			},
			{
				StepID:    "block_ip",
				Type:      model.StepAction,
				Connector: &model.ConnectorSpec{ConnectorID: "firewall", ActionType: "block_ip"},
				OnSuccess: model.SuccessAction{Mode: model.SuccessEnd},
				OnFailure: model.FailureStop,
			},
		},
	}
}

func TestValidate_WellFormedPlaybookHasNoIssues(t *testing.T) {
	res := Validate(basicPlaybook())
	assert.True(t, res.Valid(), "%v", res.Issues)
}

func TestValidate_EmptyPlaybookIsInvalid(t *testing.T) {
	res := Validate(&model.Playbook{ID: "PB-empty"})
	assert.False(t, res.Valid())
}

func TestValidate_DuplicateStepIDIsFatal(t *testing.T) {
	pb := basicPlaybook()
	pb.Steps[1].StepID = "enrich_ip"
	pb.Steps[1].Condition.OnTrue = "block_ip"
	res := Validate(pb)
	assert.False(t, res.Valid())
}

func TestValidate_BadStepIDFormatIsFatal(t *testing.T) {
	pb := basicPlaybook()
	pb.Steps[0].StepID = "EnrichIP"
	res := Validate(pb)
	assert.False(t, res.Valid())
}

func TestValidate_ConditionMissingBranchIsFatal(t *testing.T) {
	pb := basicPlaybook()
	pb.Steps[1].Condition.OnFalse = ""
	res := Validate(pb)
	assert.False(t, res.Valid())
}

func TestValidate_ConditionUnresolvedBranchIsFatal(t *testing.T) {
	pb := basicPlaybook()
	pb.Steps[1].Condition.OnTrue = "does_not_exist"
	res := Validate(pb)
	assert.False(t, res.Valid())
}

func TestValidate_ApprovalRequiresApproversTimeoutAndOnTimeout(t *testing.T) {
	pb := &model.Playbook{
		ID: "PB-approval",
		Steps: []model.Step{
			{StepID: "approve", Type: model.StepApproval, Approval: &model.ApprovalSpec{}},
		},
	}
	res := Validate(pb)
	assert.False(t, res.Valid())
	assert.GreaterOrEqual(t, len(res.Issues), 3)
}

func TestValidate_ApprovalOnTimeoutAcceptsTerminalsAndStepIDs(t *testing.T) {
	pb := &model.Playbook{
		ID: "PB-approval-ok",
		Steps: []model.Step{
			{
				StepID: "approve",
				Type:   model.StepApproval,
				Approval: &model.ApprovalSpec{
					Approvers: []string{"soc-lead"}, TimeoutHours: 4,
					OnApproved: "notify", OnRejected: model.EndSentinel, OnTimeout: "fail",
				},
			},
			{StepID: "notify", Type: model.StepNotification, Connector: &model.ConnectorSpec{ConnectorID: "slack", ActionType: "post_message"}, OnSuccess: model.SuccessAction{Mode: model.SuccessEnd}},
		},
	}
	res := Validate(pb)
	assert.True(t, res.Valid(), "%v", res.Issues)
}

func TestValidate_ConnectorStepRequiresConnectorIDAndActionType(t *testing.T) {
	pb := &model.Playbook{
		ID: "PB-conn",
		Steps: []model.Step{
			{StepID: "act", Type: model.StepAction, Connector: &model.ConnectorSpec{}},
		},
	}
	res := Validate(pb)
	assert.False(t, res.Valid())
}

func TestValidate_UnreachableStepIsFatal(t *testing.T) {
	pb := basicPlaybook()
	pb.Steps = append(pb.Steps, model.Step{
		StepID:    "orphan",
		Type:      model.StepNotification,
		Connector: &model.ConnectorSpec{ConnectorID: "slack", ActionType: "post_message"},
		OnSuccess: model.SuccessAction{Mode: model.SuccessEnd},
	})
	// break the fall-through so "orphan" is only reachable by array position,
	// which the validator does not treat as an edge once a prior step ends.
	res := Validate(pb)
	found := false
	for _, issue := range res.Issues {
		if issue.StepID == "orphan" {
			found = true
		}
	}
	assert.True(t, found, "%v", res.Issues)
}

func TestValidate_GotoCycleIsFatal(t *testing.T) {
	pb := &model.Playbook{
		ID: "PB-cycle",
		Steps: []model.Step{
			{
				StepID:    "a",
				Type:      model.StepNotification,
				Connector: &model.ConnectorSpec{ConnectorID: "slack", ActionType: "post_message"},
				OnSuccess: model.SuccessAction{Mode: model.SuccessGoto, Goto: "b"},
			},
			{
				StepID:    "b",
				Type:      model.StepNotification,
				Connector: &model.ConnectorSpec{ConnectorID: "slack", ActionType: "post_message"},
				OnSuccess: model.SuccessAction{Mode: model.SuccessGoto, Goto: "a"},
			},
		},
	}
	res := Validate(pb)
	assert.False(t, res.Valid())
	for _, stepID := range []string{"a", "b"} {
		found := false
		for _, issue := range res.Issues {
			if issue.StepID == stepID && issue.Reason == "step participates in a cycle" {
				found = true
			}
		}
		assert.True(t, found, "expected cycle issue for %s, got %v", stepID, res.Issues)
	}
}

func TestValidate_GotoTargetMustResolve(t *testing.T) {
	pb := basicPlaybook()
	pb.Steps[0].OnSuccess = model.SuccessAction{Mode: model.SuccessGoto, Goto: "nonexistent"}
	res := Validate(pb)
	assert.False(t, res.Valid())
}
