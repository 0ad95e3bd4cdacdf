// Package webhookauth implements the webhook authenticator (spec §4.B):
// look up a webhook by its opaque id, compare the presented secret in
// constant time, and reject disabled webhooks.
package webhookauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyberguard/soar-engine/internal/model"
)

// Sentinel errors returned by Authenticate; callers map these to the
// webhook-admission outcomes of spec §6.
var (
	ErrWebhookNotFound = errors.New("webhookauth: webhook not found")
	ErrWebhookDisabled = errors.New("webhookauth: webhook disabled")
	ErrInvalidSecret   = errors.New("webhookauth: invalid secret")
)

// Lookup resolves a webhook by its opaque id. Implemented by internal/store.
type Lookup interface {
	GetWebhook(ctx context.Context, webhookID string) (*model.Webhook, error)
}

// Authenticator verifies inbound webhook deliveries against a looked-up
// Webhook record.
type Authenticator struct {
	Lookup Lookup
}

// New returns an Authenticator backed by lookup.
func New(lookup Lookup) *Authenticator {
	return &Authenticator{Lookup: lookup}
}

// Resolve looks up webhookID without verifying a secret. The pipeline uses
// this to learn the webhook's playbook id and run it through the security
// filter before spending a bcrypt comparison on attacker-supplied input.
func (a *Authenticator) Resolve(ctx context.Context, webhookID string) (*model.Webhook, error) {
	wh, err := a.Lookup.GetWebhook(ctx, webhookID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWebhookNotFound, webhookID)
	}
	if wh == nil {
		return nil, fmt.Errorf("%w: %s", ErrWebhookNotFound, webhookID)
	}
	return wh, nil
}

// Verify checks presentedSecret against a resolved webhook record. The
// enabled check happens before secret comparison so a disabled webhook
// never exercises bcrypt on attacker-supplied input.
func (a *Authenticator) Verify(wh *model.Webhook, presentedSecret string) error {
	if !wh.Enabled {
		return fmt.Errorf("%w: %s", ErrWebhookDisabled, wh.ID)
	}
	if !wh.VerifySecret(presentedSecret) {
		return fmt.Errorf("%w: %s", ErrInvalidSecret, wh.ID)
	}
	return nil
}

// Authenticate resolves webhookID and verifies presentedSecret against it.
func (a *Authenticator) Authenticate(ctx context.Context, webhookID, presentedSecret string) (*model.Webhook, error) {
	wh, err := a.Resolve(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if err := a.Verify(wh, presentedSecret); err != nil {
		return nil, err
	}
	return wh, nil
}
