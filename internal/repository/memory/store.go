// Package memory is an in-process implementation of the account, service and
// transaction repositories. It backs tests and local runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/auth"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/shopspring/decimal"
)

// Store holds every table behind one mutex, so a settlement that touches an
// account and a transaction is atomic the same way the SQL transaction is.
type Store struct {
	mu sync.RWMutex

	accounts     map[int64]*models.Account
	byCredential map[string]int64
	services     map[string]*models.Service
	transactions map[string]*models.Transaction
	recharges    map[string]struct{}

	nextAccountID int64
	nextServiceID int64
	now           func() time.Time
}

func New() *Store {
	return &Store{
		accounts:     make(map[int64]*models.Account),
		byCredential: make(map[string]int64),
		services:     make(map[string]*models.Service),
		transactions: make(map[string]*models.Transaction),
		recharges:    make(map[string]struct{}),
		now:          time.Now,
	}
}

// AddAccount seeds an active account reachable by apiKey.
func (s *Store) AddAccount(username, apiKey string, balance decimal.Decimal) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAccountID++
	acc := &models.Account{
		ID:             s.nextAccountID,
		Username:       username,
		Balance:        balance,
		Status:         models.AccountActive,
		CredentialHash: auth.HashAPIKey(apiKey),
		CreatedAt:      s.now(),
	}
	s.accounts[acc.ID] = acc
	s.byCredential[acc.CredentialHash] = acc.ID
	cp := *acc
	return &cp
}

func (s *Store) SetAccountStatus(id int64, status models.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[id]; ok {
		acc.Status = status
	}
}

// AddService seeds a catalog entry, assigning its id.
func (s *Store) AddService(svc models.Service) *models.Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextServiceID++
	svc.ID = s.nextServiceID
	if svc.URLMode == "" {
		svc.URLMode = models.URLModeStandard
	}
	s.services[svc.Slug] = &svc
	cp := svc
	return &cp
}

func (s *Store) SetServiceEnabled(slug string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc, ok := s.services[slug]; ok {
		svc.Enabled = enabled
	}
}

func (s *Store) GetByID(_ context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, pkgerrors.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) GetByCredential(_ context.Context, apiKey string) (*models.Account, error) {
	if apiKey == "" {
		return nil, pkgerrors.ErrInvalidCredentials
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCredential[auth.HashAPIKey(apiKey)]
	if !ok {
		return nil, pkgerrors.ErrInvalidCredentials
	}
	acc := s.accounts[id]
	if !acc.Active() {
		return nil, pkgerrors.ErrAccountDisabled
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) TryDebit(_ context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(id, amount)
}

func (s *Store) Credit(_ context.Context, reference string, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if reference == "" {
		return decimal.Zero, pkgerrors.ErrInvalidInput
	}
	if !amount.IsPositive() {
		return decimal.Zero, pkgerrors.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return decimal.Zero, pkgerrors.ErrAccountNotFound
	}
	if _, seen := s.recharges[reference]; seen {
		return decimal.Zero, pkgerrors.ErrDuplicateRecharge
	}
	s.recharges[reference] = struct{}{}
	acc.Balance = acc.Balance.Add(amount)
	return acc.Balance, nil
}

func (s *Store) debitLocked(id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, pkgerrors.ErrInvalidAmount
	}
	acc, ok := s.accounts[id]
	switch {
	case !ok:
		return decimal.Zero, pkgerrors.ErrAccountNotFound
	case !acc.Active():
		return decimal.Zero, pkgerrors.ErrAccountDisabled
	case acc.Balance.LessThan(amount):
		return decimal.Zero, pkgerrors.ErrInsufficientFunds
	}
	acc.Balance = acc.Balance.Sub(amount)
	return acc.Balance, nil
}

func (s *Store) GetBySlug(_ context.Context, slug string) (*models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[slug]
	if !ok {
		return nil, pkgerrors.ErrServiceNotFound
	}
	cp := *svc
	return &cp, nil
}

func (s *Store) CreatePending(_ context.Context, tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if tx.Reference == "" || tx.AccountID == 0 || tx.ServiceID == 0 {
		return pkgerrors.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.Reference]; exists {
		return pkgerrors.ErrDuplicateReference
	}
	tx.Outcome = models.OutcomePending
	tx.Reason = ""
	tx.CostCharged = decimal.Zero
	tx.CreatedAt = s.now()
	tx.SettledAt = nil
	cp := *tx
	s.transactions[tx.Reference] = &cp
	return nil
}

func (s *Store) GetByReference(_ context.Context, reference string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[reference]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) SettleSuccess(_ context.Context, reference string, cost decimal.Decimal, upstreamStatus int) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pendingLocked(reference)
	if err != nil {
		return nil, err
	}
	if _, err := s.debitLocked(tx.AccountID, cost); err != nil {
		return nil, err
	}

	settledAt := s.now()
	tx.Outcome = models.OutcomeSuccess
	tx.CostCharged = cost
	tx.UpstreamStatus = upstreamStatus
	tx.SettledAt = &settledAt
	cp := *tx
	return &cp, nil
}

func (s *Store) SettleFailure(_ context.Context, reference string, reason models.FailureReason, upstreamStatus int) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pendingLocked(reference)
	if err != nil {
		return nil, err
	}

	settledAt := s.now()
	tx.Outcome = models.OutcomeFailed
	tx.Reason = reason
	tx.UpstreamStatus = upstreamStatus
	tx.SettledAt = &settledAt
	cp := *tx
	return &cp, nil
}

func (s *Store) pendingLocked(reference string) (*models.Transaction, error) {
	tx, ok := s.transactions[reference]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if tx.Settled() {
		return nil, pkgerrors.ErrAlreadySettled
	}
	return tx, nil
}

func (s *Store) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Transaction
	for _, tx := range s.transactions {
		if tx.Outcome == models.OutcomePending && tx.CreatedAt.Before(olderThan) {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transactions returns a snapshot of every record, oldest first.
func (s *Store) Transactions() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetClock replaces the time source used for created_at and settled_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
