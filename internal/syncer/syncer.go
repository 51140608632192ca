// Package syncer drives one sync run per tenant: refresh credentials if
// needed, fetch each object kind's window, upsert through the repository,
// and checkpoint per completed kind.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"bursar/internal/credentials"
	"bursar/internal/store"
	"bursar/internal/stripeclient"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// DefaultBuffer is subtracted from a kind's checkpoint when selecting the
// next window, compensating for provider write-then-list latency. Re-fetched
// records are safely re-upserted.
const DefaultBuffer = 300 * time.Second

// Provider is the slice of the provider client the orchestrator drives.
// Implemented by *stripeclient.Client.
type Provider interface {
	ListCustomers(ctx context.Context, since *time.Time) ([]stripeclient.Customer, int, error)
	ListSubscriptions(ctx context.Context, since *time.Time) ([]stripeclient.Subscription, int, error)
	ListCharges(ctx context.Context, since *time.Time) ([]stripeclient.Charge, int, error)
	ListPaymentIntents(ctx context.Context, since *time.Time) ([]stripeclient.PaymentIntent, int, error)
	ListInvoices(ctx context.Context, since *time.Time) ([]stripeclient.Invoice, int, error)
	ListTreasuryTransactions(ctx context.Context, since *time.Time) ([]stripeclient.TreasuryTransaction, int, error)
}

// Syncer orchestrates sync runs. Concurrent runs for the same tenant are
// rejected; different tenants run independently.
type Syncer struct {
	creds       *credentials.Store
	repo        *store.Repository
	newProvider func(apiKey string) Provider
	buffer      time.Duration
	logger      logging.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

// New wires a syncer. newProvider constructs a per-tenant provider client
// from a decrypted API key; a fresh client is built for every run.
func New(creds *credentials.Store, repo *store.Repository, newProvider func(apiKey string) Provider, buffer time.Duration, logger logging.Logger) *Syncer {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Syncer{
		creds:       creds,
		repo:        repo,
		newProvider: newProvider,
		buffer:      buffer,
		logger:      logger,
		running:     map[string]struct{}{},
	}
}

func (s *Syncer) acquire(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[tenantID]; busy {
		return false
	}
	s.running[tenantID] = struct{}{}
	return true
}

func (s *Syncer) release(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, tenantID)
}

// Sync runs one sync for the tenant. forceFull ignores checkpoints and
// fetches the entire history. The returned result carries per-kind counts
// and non-fatal errors even on partial success; the error return is non-nil
// only for run-level failures (not connected, already running, reconnect
// required).
func (s *Syncer) Sync(ctx context.Context, tenantID string, forceFull bool) (*models.SyncResult, error) {
	if !s.acquire(tenantID) {
		return nil, models.ErrSyncInProgress
	}
	defer s.release(tenantID)

	cred, err := s.creds.Get(ctx, tenantID, credentials.ProviderStripe)
	if err != nil {
		return nil, err
	}
	// The credential refresh runs under the tenant lock so two runs can
	// never race and invalidate each other's token.
	if _, err := s.creds.RefreshIfExpired(ctx, cred); err != nil {
		return nil, fmt.Errorf("refresh before sync: %w", err)
	}

	provider := s.newProvider(cred.AccessToken)
	result := &models.SyncResult{
		TenantID:  tenantID,
		FullSync:  forceFull || cred.LastSyncAt == nil,
		StartedAt: time.Now(),
	}

	s.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"full_sync": result.FullSync,
	}).Info("Starting sync run")

	for _, kind := range models.SyncKindOrder {
		kindStart := time.Now()

		since, err := s.window(ctx, tenantID, kind, forceFull)
		if err != nil {
			s.failKind(result, kind, err)
			continue
		}

		kr, recordErrs, err := s.runKindWithAuthRetry(ctx, &provider, cred, tenantID, kind, since)
		result.Errors = append(result.Errors, recordErrs...)
		merged := result.KindResult(kind)
		*merged = *kr

		if err != nil {
			if errors.Is(err, models.ErrReconnectRequired) {
				merged.Failed = true
				merged.Error = err.Error()
				result.Errors = append(result.Errors, err.Error())
				result.CompletedAt = time.Now()
				return result, err
			}
			s.failKind(result, kind, err)
			continue
		}

		// Per-kind checkpoint: a kind that failed this run keeps its old
		// cursor and is re-covered next time.
		if err := s.creds.SetCheckpoint(ctx, tenantID, kind, kindStart); err != nil {
			s.failKind(result, kind, err)
		}
	}

	if err := s.creds.MarkSynced(ctx, tenantID, credentials.ProviderStripe, time.Now()); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.CompletedAt = time.Now()

	s.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"upserted":  result.TotalUpserted(),
		"errors":    len(result.Errors),
	}).Info("Sync run complete")
	return result, nil
}

func (s *Syncer) failKind(result *models.SyncResult, kind models.ObjectKind, err error) {
	kr := result.KindResult(kind)
	kr.Failed = true
	kr.Error = err.Error()
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", kind, err))
	s.logger.WithFields(logging.Fields{
		"tenant_id": result.TenantID,
		"kind":      string(kind),
		"error":     err.Error(),
	}).Error("Object kind sync failed")
}

// window selects the fetch window for one kind: the whole history on a
// forced or first sync, otherwise the kind's checkpoint minus the buffer.
func (s *Syncer) window(ctx context.Context, tenantID string, kind models.ObjectKind, forceFull bool) (*time.Time, error) {
	if forceFull {
		return nil, nil
	}
	cp, err := s.creds.Checkpoint(ctx, tenantID, kind)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	since := cp.Add(-s.buffer)
	return &since, nil
}

// runKindWithAuthRetry executes one kind's fetch+upsert under an explicit
// auth retry policy: on an authentication error the credential is refreshed
// once and the kind retried once; anything further fails the run with
// ReconnectRequired.
func (s *Syncer) runKindWithAuthRetry(ctx context.Context, provider *Provider, cred *models.Credential, tenantID string, kind models.ObjectKind, since *time.Time) (*models.KindResult, []string, error) {
	var kr *models.KindResult
	var recordErrs []string

	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, models.ErrAuthExpired)
		}).
		WithMaxRetries(1).
		Build()

	attempt := 0
	_, err := failsafe.With(policy).WithContext(ctx).Get(func() (any, error) {
		attempt++
		if attempt > 1 {
			s.logger.WithFields(logging.Fields{
				"tenant_id": tenantID,
				"kind":      string(kind),
			}).Warn("Auth error from provider, refreshing credential")
			if rerr := s.creds.Refresh(ctx, cred); rerr != nil {
				return nil, fmt.Errorf("credential refresh failed: %w: %w", rerr, models.ErrReconnectRequired)
			}
			*provider = s.newProvider(cred.AccessToken)
		}
		kr, recordErrs = nil, nil
		var err error
		kr, recordErrs, err = s.syncKind(ctx, *provider, tenantID, kind, since)
		return nil, err
	})

	if kr == nil {
		kr = &models.KindResult{Kind: kind}
	}
	if errors.Is(err, models.ErrAuthExpired) {
		err = fmt.Errorf("auth retry exhausted for %s: %w", kind, models.ErrReconnectRequired)
	}
	return kr, recordErrs, err
}
