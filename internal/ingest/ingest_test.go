package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/model"
	"github.com/cyberguard/soar-engine/internal/seccache"
	"github.com/cyberguard/soar-engine/internal/secfilter"
	"github.com/cyberguard/soar-engine/internal/sla"
	"github.com/cyberguard/soar-engine/internal/trigger"
	"github.com/cyberguard/soar-engine/internal/webhookauth"
)

type fakeRepo struct {
	webhooks   map[string]*model.Webhook
	triggers   map[string][]*model.Trigger // by webhook id
	playbooks  map[string]*model.Playbook
	executions map[string]*model.Execution // by id
	byFinger   map[string]*model.Execution
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		webhooks:   map[string]*model.Webhook{},
		triggers:   map[string][]*model.Trigger{},
		playbooks:  map[string]*model.Playbook{},
		executions: map[string]*model.Execution{},
		byFinger:   map[string]*model.Execution{},
	}
}

func (f *fakeRepo) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	return f.webhooks[id], nil
}

func (f *fakeRepo) ListTriggersForWebhook(ctx context.Context, webhookID string) ([]*model.Trigger, error) {
	return f.triggers[webhookID], nil
}

func (f *fakeRepo) ListTriggersForPlaybook(ctx context.Context, playbookID string) ([]*model.Trigger, error) {
	var out []*model.Trigger
	for _, ts := range f.triggers {
		for _, t := range ts {
			if t.PlaybookID == playbookID {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) GetPlaybook(ctx context.Context, id string) (*model.Playbook, error) {
	return f.playbooks[id], nil
}

func (f *fakeRepo) GetExecutionByFingerprint(ctx context.Context, fp string) (*model.Execution, error) {
	return f.byFinger[fp], nil
}

func (f *fakeRepo) SaveExecution(ctx context.Context, e *model.Execution) error {
	f.executions[e.ID] = e
	f.byFinger[e.Fingerprint] = e
	return nil
}

func (f *fakeRepo) IncrementWebhookCounters(ctx context.Context, webhookID string, accepted bool) error {
	return nil
}

func newPipeline(t *testing.T, repo *fakeRepo) *Pipeline {
	t.Helper()
	secret := "0123456789abcdef0123456789abcdef"
	hash, prefix, err := model.HashSecret(secret)
	require.NoError(t, err)
	repo.webhooks["wh-1"] = &model.Webhook{ID: "wh-1", PlaybookID: "PB-1", Enabled: true, SecretHash: hash, SecretPrefix: prefix}

	repo.playbooks["PB-1"] = &model.Playbook{ID: "PB-1", Name: "respond", Version: "1.0.0", Enabled: true}

	repo.triggers["wh-1"] = []*model.Trigger{{
		ID: "TRG-1", WebhookID: "wh-1", PlaybookID: "PB-1", Version: 1, Enabled: true,
		Match: model.MatchAll,
		Predicates: []model.Predicate{
			{Field: "severity", Operator: model.OpEquals, Value: "high"},
		},
	}}

	return &Pipeline{
		Security:      secfilter.New(secfilter.DefaultConfig(), seccache.NewMemoryCache(nil)),
		Auth:          webhookauth.New(repo),
		Triggers:      repo,
		Playbooks:     repo,
		Executions:    repo,
		Conditions:    trigger.New(),
		SLA:           sla.New(fakePolicyResolver{}),
		Webhooks:      repo,
		DedupWindow:   time.Minute,
		BucketSeconds: 60,
	}
}

type fakePolicyResolver struct{}

func (fakePolicyResolver) GetSLAPolicy(ctx context.Context, scope model.SLAScope, key string) (*model.SLAPolicy, error) {
	return nil, nil
}

func validSecret() string { return "0123456789abcdef0123456789abcdef" }

func TestIngestWebhook_AcceptsMatchingAlert(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)

	result, err := p.IngestWebhook(context.Background(), WebhookRequest{
		WebhookID:       "wh-1",
		PresentedSecret: validSecret(),
		ClientIP:        "10.0.0.1",
		RawBody:         []byte(`{"severity":"high","rule":{"id":"5710"}}`),
		ArrivalTime:     time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, "PB-1", result.PlaybookID)
	assert.Len(t, repo.executions, 1)
}

func TestIngestWebhook_DropsNonMatchingAlert(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)

	result, err := p.IngestWebhook(context.Background(), WebhookRequest{
		WebhookID:       "wh-1",
		PresentedSecret: validSecret(),
		ClientIP:        "10.0.0.2",
		RawBody:         []byte(`{"severity":"low"}`),
		ArrivalTime:     time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, result.Outcome)
	assert.Equal(t, DropMatchingRulesNotSatisfied, result.DropReason)
	assert.Empty(t, repo.executions)
}

func TestIngestWebhook_InvalidSecretReturnsAuthError(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)

	_, err := p.IngestWebhook(context.Background(), WebhookRequest{
		WebhookID:       "wh-1",
		PresentedSecret: "wrong-secret-wrong-secret-wrong",
		ClientIP:        "10.0.0.3",
		RawBody:         []byte(`{"severity":"high"}`),
	})
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestIngestWebhook_UnknownWebhookReturnsAuthError(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)

	_, err := p.IngestWebhook(context.Background(), WebhookRequest{
		WebhookID:       "does-not-exist",
		PresentedSecret: validSecret(),
		ClientIP:        "10.0.0.4",
	})
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestIngestWebhook_DuplicateFingerprintDropsSecondDelivery(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)
	body := []byte(`{"severity":"high","rule":{"id":"5710"},"event_time":"2026-07-31T10:00:00Z"}`)

	first, err := p.IngestWebhook(context.Background(), WebhookRequest{
		WebhookID: "wh-1", PresentedSecret: validSecret(), ClientIP: "10.0.0.5", RawBody: body, ArrivalTime: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, first.Outcome)

	second, err := p.IngestWebhook(context.Background(), WebhookRequest{
		WebhookID: "wh-1", PresentedSecret: validSecret(), ClientIP: "10.0.0.6", RawBody: body, ArrivalTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, second.Outcome)
	assert.Equal(t, DropDuplicateFingerprint, second.DropReason)
	assert.Len(t, repo.executions, 1)
}

func TestIngestWebhook_DisabledPlaybookDrops(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)
	repo.playbooks["PB-1"].Enabled = false

	result, err := p.IngestWebhook(context.Background(), WebhookRequest{
		WebhookID: "wh-1", PresentedSecret: validSecret(), ClientIP: "10.0.0.7",
		RawBody: []byte(`{"severity":"high"}`), ArrivalTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, result.Outcome)
	assert.Equal(t, DropPlaybookDisabled, result.DropReason)
}

func TestIngestWebhook_DisabledTriggerDrops(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)
	repo.triggers["wh-1"][0].Enabled = false

	result, err := p.IngestWebhook(context.Background(), WebhookRequest{
		WebhookID: "wh-1", PresentedSecret: validSecret(), ClientIP: "10.0.0.8",
		RawBody: []byte(`{"severity":"high"}`), ArrivalTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, result.Outcome)
	assert.Equal(t, DropTriggerDisabled, result.DropReason)
}

func TestTriggerManual_BypassSkipsTriggerEvaluation(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)

	result, err := p.TriggerManual(context.Background(), ManualTriggerRequest{
		PlaybookID:    "PB-1",
		TriggerData:   map[string]any{"severity": "low"},
		BypassTrigger: true,
		ArrivalTime:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
}

func TestTriggerManual_WithoutBypassHonorsPredicates(t *testing.T) {
	repo := newFakeRepo()
	p := newPipeline(t, repo)

	result, err := p.TriggerManual(context.Background(), ManualTriggerRequest{
		PlaybookID:  "PB-1",
		TriggerData: map[string]any{"severity": "low"},
		ArrivalTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, result.Outcome)
	assert.Equal(t, DropMatchingRulesNotSatisfied, result.DropReason)
}
