// Package ingest wires the Security Filter, Webhook Authenticator, Trigger
// Evaluator, and Event Normalizer into the single admission pipeline spec
// §6's ingestion and manual-trigger endpoints drive (spec §4.A-§4.D,
// §4.E "playbook disabled"/"trigger disabled" gating, §4.I "acknowledge
// computed immediately at execution insert").
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyberguard/soar-engine/internal/model"
	"github.com/cyberguard/soar-engine/internal/normalize"
	"github.com/cyberguard/soar-engine/internal/pathval"
	"github.com/cyberguard/soar-engine/internal/secfilter"
	"github.com/cyberguard/soar-engine/internal/sla"
	"github.com/cyberguard/soar-engine/internal/trigger"
	"github.com/cyberguard/soar-engine/internal/webhookauth"
)

// DropReason enumerates the 200 "dropped" outcomes of spec §6.
type DropReason string

// Canonical drop reasons.
const (
	DropMatchingRulesNotSatisfied DropReason = "matching_rules_not_satisfied"
	DropDuplicateFingerprint      DropReason = "duplicate_fingerprint"
	DropPlaybookDisabled          DropReason = "playbook_disabled"
	DropTriggerDisabled           DropReason = "trigger_disabled"
	DropSchemaValidationFailed    DropReason = "schema_validation_failed"
)

// RejectReason enumerates the 400 "rejected" outcomes of spec §6, produced
// by the security filter's replay/HMAC sub-policies.
type RejectReason string

// Canonical rejection reasons.
const (
	RejectInvalidTimestamp RejectReason = "INVALID_TIMESTAMP"
	RejectTimestampSkew    RejectReason = "TIMESTAMP_SKEW"
	RejectDuplicateNonce   RejectReason = "DUPLICATE_NONCE"
	RejectInvalidSignature RejectReason = "INVALID_SIGNATURE"
	RejectMissingTimestamp RejectReason = "MISSING_TIMESTAMP"
)

// Outcome classifies an ingestion attempt's disposition.
type Outcome string

// Canonical outcomes, matching spec §6's three response shapes.
const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDropped  Outcome = "dropped"
	OutcomeRejected Outcome = "rejected"
)

// Result is the pipeline's verdict for one ingestion attempt.
type Result struct {
	Outcome Outcome

	ExecutionID string
	PlaybookID  string
	TriggerID   string
	LatencyMS   int64

	DropReason DropReason

	RejectReason RejectReason
	RetryAfter   time.Duration
}

// AuthError distinguishes webhook-authentication failures (404/401) from
// every other pipeline error, so the HTTP layer can map status codes
// without inspecting error strings.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError carries the 429 Retry-After duration for a security-filter
// rate-limit rejection, distinct from Result.Outcome=Rejected (those are
// 400s; rate limiting and flood control are 429s per spec §6).
type RateLimitError struct {
	Code       secfilter.RejectCode
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("ingest: rate limited: %s", e.Code)
}

// WebhookRequest is one inbound POST /webhooks/{webhook_id} delivery.
type WebhookRequest struct {
	WebhookID       string
	PresentedSecret string
	ClientIP        string
	RawBody         []byte
	TimestampHeader string
	SignatureHeader string
	ArrivalTime     time.Time
}

// ManualTriggerRequest is one inbound POST /executions/trigger call.
type ManualTriggerRequest struct {
	PlaybookID    string
	TriggerData   map[string]any
	BypassTrigger bool
	ArrivalTime   time.Time
}

// SchemaValidator optionally validates a decoded payload against a
// playbook-specific JSON Schema (spec §6 "schema_validation_failed").
// Implementations wrap github.com/santhosh-tekuri/jsonschema/v5. A nil
// SchemaValidator on Pipeline disables this check entirely.
type SchemaValidator interface {
	Validate(ctx context.Context, playbookID string, payload any) error
}

// Auditor persists best-effort audit events; a failure here must never
// roll back the admission it's recording (spec §7).
type Auditor interface {
	SaveAuditEvent(ctx context.Context, e *model.AuditEvent) error
}

// Pipeline composes the admission chain. All fields are required except
// Schema, Audit, SLA and Webhooks (each check is skipped when nil) and Now
// (defaults to time.Now).
type Pipeline struct {
	Security   *secfilter.Filter
	Auth       *webhookauth.Authenticator
	Triggers   TriggerRepo
	Playbooks  PlaybookRepo
	Executions ExecutionRepo
	Conditions *trigger.Evaluator
	SLA        *sla.Accountant
	Schema     SchemaValidator
	Audit      Auditor
	Webhooks   WebhookCounters

	DedupWindow   time.Duration
	BucketSeconds int64

	Now func() time.Time
}

// TriggerRepo is the subset of internal/store/pg the pipeline needs to
// resolve candidate triggers.
type TriggerRepo interface {
	ListTriggersForWebhook(ctx context.Context, webhookID string) ([]*model.Trigger, error)
	ListTriggersForPlaybook(ctx context.Context, playbookID string) ([]*model.Trigger, error)
}

// PlaybookRepo resolves a playbook by id.
type PlaybookRepo interface {
	GetPlaybook(ctx context.Context, playbookID string) (*model.Playbook, error)
}

// ExecutionRepo is the subset of internal/store/pg the pipeline needs to
// dedup and persist a freshly-admitted execution.
type ExecutionRepo interface {
	GetExecutionByFingerprint(ctx context.Context, fingerprint string) (*model.Execution, error)
	SaveExecution(ctx context.Context, e *model.Execution) error
}

// WebhookCounters tracks the per-webhook lifetime observability counters of
// spec §4.A. Optional: a nil Pipeline.Webhooks disables counting.
type WebhookCounters interface {
	IncrementWebhookCounters(ctx context.Context, webhookID string, accepted bool) error
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// IngestWebhook runs the full spec §4.A-§4.I admission chain for a
// webhook delivery.
func (p *Pipeline) IngestWebhook(ctx context.Context, req WebhookRequest) (*Result, error) {
	wh, err := p.Auth.Resolve(ctx, req.WebhookID)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	result, err := p.ingestAuthenticated(ctx, req, wh)
	if p.Webhooks != nil {
		accepted := err == nil && result != nil && result.Outcome == OutcomeAccepted
		_ = p.Webhooks.IncrementWebhookCounters(ctx, req.WebhookID, accepted)
	}
	return result, err
}

// ingestAuthenticated runs the security filter (Component A) on the
// already-resolved webhook before spending a bcrypt comparison on the
// presented secret (Component B), so an unthrottled stream of guessed
// secrets never reaches VerifySecret.
func (p *Pipeline) ingestAuthenticated(ctx context.Context, req WebhookRequest, wh *model.Webhook) (*Result, error) {
	start := p.now()

	secDecision, err := p.Security.Admit(ctx, secfilter.Request{
		ClientIP:        req.ClientIP,
		WebhookID:       req.WebhookID,
		PlaybookID:      wh.PlaybookID,
		WebhookSecret:   req.PresentedSecret,
		Payload:         req.RawBody,
		TimestampHeader: req.TimestampHeader,
		SignatureHeader: req.SignatureHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: security filter: %w", err)
	}
	if !secDecision.Admitted {
		return securityRejection(secDecision)
	}

	if err := p.Auth.Verify(wh, req.PresentedSecret); err != nil {
		return nil, &AuthError{Err: err}
	}

	var payload map[string]any
	if len(req.RawBody) > 0 {
		if err := json.Unmarshal(req.RawBody, &payload); err != nil {
			return nil, fmt.Errorf("ingest: decode payload: %w", err)
		}
	}

	if p.Schema != nil {
		if err := p.Schema.Validate(ctx, wh.PlaybookID, payload); err != nil {
			return &Result{Outcome: OutcomeDropped, DropReason: DropSchemaValidationFailed}, nil
		}
	}

	triggers, err := p.Triggers.ListTriggersForWebhook(ctx, req.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("ingest: list triggers: %w", err)
	}
	matched, trig, err := p.firstMatch(triggers, payload)
	if err != nil {
		return nil, fmt.Errorf("ingest: evaluate triggers: %w", err)
	}
	if !matched {
		return &Result{Outcome: OutcomeDropped, DropReason: DropMatchingRulesNotSatisfied}, nil
	}

	return p.admit(ctx, wh.PlaybookID, req.WebhookID, trig, payload, req.ArrivalTime, start)
}

// TriggerManual runs the reduced pipeline for POST /executions/trigger:
// no webhook authentication or security filter, optional trigger gating.
func (p *Pipeline) TriggerManual(ctx context.Context, req ManualTriggerRequest) (*Result, error) {
	start := p.now()
	payload := req.TriggerData

	var trig *model.Trigger
	if !req.BypassTrigger {
		triggers, err := p.Triggers.ListTriggersForPlaybook(ctx, req.PlaybookID)
		if err != nil {
			return nil, fmt.Errorf("ingest: list triggers for playbook: %w", err)
		}
		matched, t, err := p.firstMatch(triggers, payload)
		if err != nil {
			return nil, fmt.Errorf("ingest: evaluate triggers: %w", err)
		}
		if !matched {
			return &Result{Outcome: OutcomeDropped, DropReason: DropMatchingRulesNotSatisfied}, nil
		}
		trig = t
	}

	return p.admit(ctx, req.PlaybookID, "", trig, payload, req.ArrivalTime, start)
}

func (p *Pipeline) firstMatch(triggers []*model.Trigger, payload any) (bool, *model.Trigger, error) {
	for _, t := range triggers {
		result, err := p.Conditions.Evaluate(t, payload)
		if err != nil {
			return false, nil, err
		}
		if result.Matched {
			return true, t, nil
		}
	}
	return false, nil, nil
}

func (p *Pipeline) admit(ctx context.Context, playbookID, webhookID string, trig *model.Trigger, payload map[string]any, arrivalTime, start time.Time) (*Result, error) {
	pb, err := p.Playbooks.GetPlaybook(ctx, playbookID)
	if err != nil {
		return nil, fmt.Errorf("ingest: load playbook %s: %w", playbookID, err)
	}
	if pb == nil || !pb.Enabled {
		return &Result{Outcome: OutcomeDropped, DropReason: DropPlaybookDisabled}, nil
	}
	if trig != nil && !trig.Enabled {
		return &Result{Outcome: OutcomeDropped, DropReason: DropTriggerDisabled}, nil
	}

	if arrivalTime.IsZero() {
		arrivalTime = p.now()
	}
	eventTime, eventTimeSource := normalize.ResolveEventTime(payload, arrivalTime)
	fingerprint, err := normalize.Fingerprint(webhookID, payload, eventTime, p.BucketSeconds)
	if err != nil {
		return nil, fmt.Errorf("ingest: compute fingerprint: %w", err)
	}

	if dup, err := p.checkDuplicate(ctx, fingerprint, arrivalTime); err != nil {
		return nil, err
	} else if dup {
		return &Result{Outcome: OutcomeDropped, DropReason: DropDuplicateFingerprint}, nil
	}

	now := p.now()
	exec := &model.Execution{
		ID:                model.NewExecutionID(now),
		PlaybookID:        pb.ID,
		PlaybookName:      pb.Name,
		PlaybookVersion:   pb.Version,
		State:             model.ExecExecuting,
		TriggerData:       payload,
		EventTime:         eventTime,
		EventTimeSource:   string(eventTimeSource),
		WebhookID:         webhookID,
		Fingerprint:       fingerprint,
		WebhookReceivedAt: arrivalTime,
		StartedAt:         now,
		ShadowMode:        pb.ShadowMode,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if trig != nil {
		exec.TriggerSnapshot = trig.Snapshot()
	}

	if p.SLA != nil {
		severity, _ := pathval.GetString(payload, "severity")
		policy, err := p.SLA.ResolvePolicy(ctx, pb.ID, severity)
		if err != nil {
			return nil, fmt.Errorf("ingest: resolve SLA policy: %w", err)
		}
		exec.SLAStatus = sla.Initialize(policy)
		exec.AcknowledgedAt = now
		p.SLA.RecordAcknowledge(exec, now)
	}

	if err := p.Executions.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("ingest: save execution: %w", err)
	}

	if p.Audit != nil {
		triggerID := ""
		if trig != nil {
			triggerID = trig.ID
		}
		_ = p.Audit.SaveAuditEvent(ctx, &model.AuditEvent{
			ID:       exec.ID + "-admit",
			At:       now,
			Actor:    "ingest",
			Action:   "execution.admit",
			Resource: exec.ID,
			Outcome:  model.OutcomeSuccess,
			Detail:   map[string]any{"playbook_id": pb.ID, "trigger_id": triggerID, "webhook_id": webhookID},
		})
	}

	triggerID := ""
	if trig != nil {
		triggerID = trig.ID
	}
	return &Result{
		Outcome:     OutcomeAccepted,
		ExecutionID: exec.ID,
		PlaybookID:  pb.ID,
		TriggerID:   triggerID,
		LatencyMS:   p.now().Sub(start).Milliseconds(),
	}, nil
}

func (p *Pipeline) checkDuplicate(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	existing, err := p.Executions.GetExecutionByFingerprint(ctx, fingerprint)
	if err != nil {
		return false, fmt.Errorf("ingest: fingerprint lookup: %w", err)
	}
	if existing == nil {
		return false, nil
	}
	window := p.DedupWindow
	if window <= 0 {
		window = time.Duration(normalize.DefaultBucketSeconds) * time.Second
	}
	return now.Sub(existing.CreatedAt) < window, nil
}

func securityRejection(dec secfilter.Decision) (*Result, error) {
	switch dec.RejectCode {
	case secfilter.RejectRateLimited, secfilter.RejectIPBlocked, secfilter.RejectPlaybookFlood, secfilter.RejectGlobalFlood:
		return nil, &RateLimitError{Code: dec.RejectCode, RetryAfter: dec.RetryAfter}
	case secfilter.RejectInvalidTimestamp:
		return &Result{Outcome: OutcomeRejected, RejectReason: RejectInvalidTimestamp}, nil
	case secfilter.RejectStaleTimestamp:
		return &Result{Outcome: OutcomeRejected, RejectReason: RejectTimestampSkew}, nil
	case secfilter.RejectReplay:
		return &Result{Outcome: OutcomeRejected, RejectReason: RejectDuplicateNonce}, nil
	case secfilter.RejectMissingTimestamp:
		return &Result{Outcome: OutcomeRejected, RejectReason: RejectMissingTimestamp}, nil
	case secfilter.RejectBadSignature:
		return &Result{Outcome: OutcomeRejected, RejectReason: RejectInvalidSignature}, nil
	default:
		return &Result{Outcome: OutcomeRejected, RejectReason: RejectInvalidTimestamp}, nil
	}
}
