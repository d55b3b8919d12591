package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/observability"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	"github.com/sharmaji847401-hue/myapi/internal/repository"
	"github.com/sharmaji847401-hue/myapi/internal/upstream"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Catalog interface {
	Lookup(ctx context.Context, slug string) (*models.Service, error)
}

type Invoker interface {
	Invoke(ctx context.Context, svc *models.Service, in upstream.Input) upstream.Result
}

type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, tx *models.Transaction)
}

type Request struct {
	AccountID   int64
	ServiceSlug string
	Data        string
	BillerID    string
	// Reference is optional; a UUID is generated when empty.
	Reference string
}

type Outcome struct {
	Reference   string
	StatusCode  int
	Body        []byte
	ContentType string
	Charged     decimal.Decimal
}

// UpstreamFailure is returned when the provider call did not succeed. The
// record has already been settled as failed and nothing was charged.
type UpstreamFailure struct {
	Reference  string
	Kind       upstream.Kind
	StatusCode int
	Body       []byte
	Err        error
}

func (e *UpstreamFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s: status %d", e.Kind, e.StatusCode)
}

func (e *UpstreamFailure) Unwrap() error {
	if e.Kind == upstream.KindTimeout {
		return pkgerrors.ErrUpstreamTimeout
	}
	return pkgerrors.ErrUpstreamFailed
}

type BillingService struct {
	accounts repository.AccountRepository
	catalog  Catalog
	ledger   repository.TransactionRepository
	upstream Invoker
	events   SettlementPublisher
}

func NewBillingService(
	accounts repository.AccountRepository,
	catalog Catalog,
	ledger repository.TransactionRepository,
	invoker Invoker,
	events SettlementPublisher,
) *BillingService {
	return &BillingService{
		accounts: accounts,
		catalog:  catalog,
		ledger:   ledger,
		upstream: invoker,
		events:   events,
	}
}

// Execute runs one balance-gated provider call. The caller is charged the
// service's unit cost if and only if the provider succeeded and the record
// settled as success.
func (s *BillingService) Execute(ctx context.Context, req Request) (*Outcome, error) {
	tracer := otel.Tracer("billing-service")
	ctx, span := tracer.Start(ctx, "Execute")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("account_id", req.AccountID),
		attribute.String("service", req.ServiceSlug))

	if strings.TrimSpace(req.ServiceSlug) == "" || strings.TrimSpace(req.Data) == "" {
		span.SetStatus(codes.Error, "missing parameters")
		return nil, fmt.Errorf("%w: type and data are required", pkgerrors.ErrInvalidInput)
	}

	svc, err := s.authorize(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tx, err := s.anchor(ctx, req, svc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("reference", tx.Reference))

	// From here on the caller going away must not leave the record unsettled.
	detached := context.WithoutCancel(ctx)
	res := s.upstream.Invoke(detached, svc, upstream.Input{Data: req.Data, BillerID: req.BillerID})

	out, err := s.settle(detached, svc, tx, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// authorize resolves the service and checks the balance. It has no side effects.
func (s *BillingService) authorize(ctx context.Context, req Request) (*models.Service, error) {
	log := observability.WithContext(ctx, "method", "Execute", "account_id", req.AccountID, "service", req.ServiceSlug)

	svc, err := s.catalog.Lookup(ctx, req.ServiceSlug)
	switch {
	case stderrors.Is(err, pkgerrors.ErrServiceNotFound), stderrors.Is(err, pkgerrors.ErrServiceDisabled):
		reject(req.ServiceSlug, "service_unavailable")
		return nil, err
	case err != nil:
		log.Error("catalog lookup failed", "error", err)
		return nil, fmt.Errorf("%w: catalog lookup: %v", pkgerrors.ErrStorage, err)
	}

	if _, err := upstream.BuildURL(svc, upstream.Input{Data: req.Data, BillerID: req.BillerID}); err != nil {
		if stderrors.Is(err, pkgerrors.ErrInvalidInput) {
			reject(svc.Slug, "invalid_input")
			return nil, err
		}
		log.Error("service misconfigured", "error", err)
		return nil, err
	}

	acc, err := s.accounts.GetByID(ctx, req.AccountID)
	switch {
	case stderrors.Is(err, pkgerrors.ErrAccountNotFound):
		return nil, pkgerrors.ErrInvalidCredentials
	case err != nil:
		log.Error("account lookup failed", "error", err)
		return nil, fmt.Errorf("%w: account lookup: %v", pkgerrors.ErrStorage, err)
	case !acc.Active():
		return nil, pkgerrors.ErrAccountDisabled
	case acc.Balance.LessThan(svc.UnitCost):
		reject(svc.Slug, "insufficient_funds")
		log.Info("insufficient funds", "balance", acc.Balance, "cost", svc.UnitCost)
		return nil, pkgerrors.ErrInsufficientFunds
	}
	return svc, nil
}

func (s *BillingService) anchor(ctx context.Context, req Request, svc *models.Service) (*models.Transaction, error) {
	reference := req.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	tx := &models.Transaction{
		Reference:    reference,
		AccountID:    req.AccountID,
		ServiceID:    svc.ID,
		ServiceSlug:  svc.Slug,
		InputPayload: req.Data,
		BillerID:     req.BillerID,
	}
	err := s.ledger.CreatePending(ctx, tx)
	switch {
	case stderrors.Is(err, pkgerrors.ErrDuplicateReference):
		return nil, err
	case err != nil:
		observability.WithContext(ctx, "method", "Execute", "reference", reference).
			Error("failed to create pending transaction", "error", err)
		return nil, fmt.Errorf("%w: create pending: %v", pkgerrors.ErrStorage, err)
	}
	return tx, nil
}

func (s *BillingService) settle(ctx context.Context, svc *models.Service, tx *models.Transaction, res upstream.Result) (*Outcome, error) {
	log := observability.WithContext(ctx,
		"method", "Execute",
		"reference", tx.Reference,
		"account_id", tx.AccountID,
		"service", svc.Slug)

	if res.Kind != upstream.KindSuccess {
		reason := failureReason(res)
		settled, err := s.ledger.SettleFailure(ctx, tx.Reference, reason, res.StatusCode)
		if err != nil {
			log.Error("failed to settle failed transaction, left pending", "reason", reason, "error", err)
			return nil, fmt.Errorf("%w: settle failure: %v", pkgerrors.ErrStorage, err)
		}
		s.finish(ctx, settled)
		log.Warn("upstream call failed", "result", res.Kind.String(), "status_code", res.StatusCode, "error", res.Err)
		return nil, &UpstreamFailure{
			Reference:  tx.Reference,
			Kind:       res.Kind,
			StatusCode: res.StatusCode,
			Body:       res.Body,
			Err:        res.Err,
		}
	}

	settled, err := s.ledger.SettleSuccess(ctx, tx.Reference, svc.UnitCost, res.StatusCode)
	if err == nil {
		s.finish(ctx, settled)
		log.Info("transaction charged", "cost", svc.UnitCost, "status_code", res.StatusCode)
		return &Outcome{
			Reference:   tx.Reference,
			StatusCode:  res.StatusCode,
			Body:        res.Body,
			ContentType: res.ContentType,
			Charged:     settled.CostCharged,
		}, nil
	}

	var reason models.FailureReason
	switch {
	case stderrors.Is(err, pkgerrors.ErrInsufficientFunds):
		reason = models.ReasonInsufficientFundsAtSettlement
	case stderrors.Is(err, pkgerrors.ErrAccountDisabled):
		reason = models.ReasonAccountDisabledAtSettlement
	default:
		log.Error("failed to settle successful transaction, left pending", "error", err)
		return nil, fmt.Errorf("%w: settle success: %v", pkgerrors.ErrStorage, err)
	}

	// The provider delivered but the debit no longer fits. The result is
	// handed over uncharged and the mismatch is surfaced for reconciliation.
	settled, err = s.ledger.SettleFailure(ctx, tx.Reference, reason, res.StatusCode)
	if err != nil {
		log.Error("failed to settle uncharged transaction, left pending", "reason", reason, "error", err)
		return nil, fmt.Errorf("%w: settle failure: %v", pkgerrors.ErrStorage, err)
	}
	s.finish(ctx, settled)
	log.Warn("provider succeeded but debit refused at settlement", "reason", reason, "cost", svc.UnitCost)
	return &Outcome{
		Reference:   tx.Reference,
		StatusCode:  res.StatusCode,
		Body:        res.Body,
		ContentType: res.ContentType,
		Charged:     decimal.Zero,
	}, nil
}

func (s *BillingService) finish(ctx context.Context, tx *models.Transaction) {
	observability.BillingOutcomes.WithLabelValues(tx.ServiceSlug, string(tx.Outcome), string(tx.Reason)).Inc()
	if s.events != nil {
		s.events.PublishSettlement(ctx, tx)
	}
}

// Transaction returns the ledger record for manual review.
func (s *BillingService) Transaction(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.ledger.GetByReference(ctx, reference)
}

func failureReason(res upstream.Result) models.FailureReason {
	switch {
	case res.Kind == upstream.KindTimeout:
		return models.ReasonTimeout
	case res.Kind == upstream.KindNetworkFailure:
		return models.ReasonNetworkFailure
	case stderrors.Is(res.Err, pkgerrors.ErrResponseTooLarge):
		return models.ReasonResponseTooLarge
	default:
		return models.ReasonUpstreamError
	}
}

func reject(slug, why string) {
	observability.BillingOutcomes.WithLabelValues(slug, "rejected", why).Inc()
}
