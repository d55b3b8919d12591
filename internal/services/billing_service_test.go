package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sharmaji847401-hue/myapi/internal/catalog"
	"github.com/sharmaji847401-hue/myapi/internal/models"
	"github.com/sharmaji847401-hue/myapi/internal/repository/memory"
	repositorymocks "github.com/sharmaji847401-hue/myapi/internal/repository/mocks"
	"github.com/sharmaji847401-hue/myapi/internal/upstream"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Transaction
}

func (p *recordingPublisher) PublishSettlement(_ context.Context, tx *models.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *tx)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type provider struct {
	server *httptest.Server
	hits   atomic.Int32
}

func newProvider(t *testing.T, h http.HandlerFunc) *provider {
	t.Helper()
	p := &provider{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func okProvider(t *testing.T) *provider {
	return newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":true,"name":"RAHUL"}`))
	})
}

type fixture struct {
	store   *memory.Store
	account *models.Account
	service *models.Service
	events  *recordingPublisher
	billing *BillingService
}

func newFixture(t *testing.T, balance string, p *provider, timeout time.Duration) *fixture {
	t.Helper()
	store := memory.New()
	acc := store.AddAccount("reseller", "sk_live_test", decimal.RequireFromString(balance))
	svc := store.AddService(models.Service{
		Slug:             "pan-verify",
		Name:             "PAN verification",
		UnitCost:         decimal.RequireFromString("2.50"),
		EndpointTemplate: p.server.URL + "/pan?q=",
		SuccessField:     "status",
		Enabled:          true,
	})
	events := &recordingPublisher{}
	billing := NewBillingService(store, catalog.New(store, nil, 0), store, upstream.NewClient(timeout, 0), events)
	return &fixture{store: store, account: acc, service: svc, events: events, billing: billing}
}

func (f *fixture) request(ref string) Request {
	return Request{AccountID: f.account.ID, ServiceSlug: "pan-verify", Data: "ABCDE1234F", Reference: ref}
}

func (f *fixture) balanceOf(t *testing.T) decimal.Decimal {
	t.Helper()
	acc, err := f.store.GetByID(context.Background(), f.account.ID)
	require.NoError(t, err)
	return acc.Balance
}

func TestBillingService_SuccessfulCallIsCharged(t *testing.T) {
	p := okProvider(t)
	f := newFixture(t, "10.00", p, time.Second)

	out, err := f.billing.Execute(context.Background(), f.request(""))
	require.NoError(t, err)

	assert.JSONEq(t, `{"status":true,"name":"RAHUL"}`, string(out.Body))
	assert.Equal(t, "application/json", out.ContentType)
	assert.True(t, out.Charged.Equal(decimal.RequireFromString("2.5")))
	assert.NotEmpty(t, out.Reference)
	assert.True(t, f.balanceOf(t).Equal(decimal.RequireFromString("7.5")))

	tx, err := f.billing.Transaction(context.Background(), out.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, tx.Outcome)
	assert.True(t, tx.CostCharged.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "ABCDE1234F", tx.InputPayload)
	assert.Equal(t, 1, f.events.count())
}

func TestBillingService_InsufficientFundsNeverCallsUpstream(t *testing.T) {
	p := okProvider(t)
	f := newFixture(t, "1.00", p, time.Second)

	out, err := f.billing.Execute(context.Background(), f.request(""))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
	assert.Equal(t, int32(0), p.hits.Load())
	assert.Empty(t, f.store.Transactions())
	assert.True(t, f.balanceOf(t).Equal(decimal.NewFromInt(1)))
}

func TestBillingService_UpstreamErrorIsNotCharged(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":false}`))
	})
	f := newFixture(t, "10.00", p, time.Second)

	out, err := f.billing.Execute(context.Background(), f.request("ref-c"))
	assert.Nil(t, out)

	var failure *UpstreamFailure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, pkgerrors.ErrUpstreamFailed)
	assert.Equal(t, upstream.KindUpstreamError, failure.Kind)
	assert.Equal(t, http.StatusInternalServerError, failure.StatusCode)
	assert.Equal(t, "ref-c", failure.Reference)
	assert.True(t, f.balanceOf(t).Equal(decimal.NewFromInt(10)))

	tx, err := f.billing.Transaction(context.Background(), "ref-c")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, tx.Outcome)
	assert.Equal(t, models.ReasonUpstreamError, tx.Reason)
	assert.True(t, tx.CostCharged.IsZero())
}

func TestBillingService_SuccessFieldFalseIsUpstreamError(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":false,"message":"invalid pan"}`))
	})
	f := newFixture(t, "10.00", p, time.Second)

	_, err := f.billing.Execute(context.Background(), f.request(""))
	var failure *UpstreamFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, http.StatusOK, failure.StatusCode)
	assert.JSONEq(t, `{"status":false,"message":"invalid pan"}`, string(failure.Body))
	assert.True(t, f.balanceOf(t).Equal(decimal.NewFromInt(10)))
}

func TestBillingService_OversizeBodyIsNotCharged(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":true,"data":"` + strings.Repeat("x", 100) + `"}`))
	})
	f := newFixture(t, "100.00", p, time.Second)
	f.billing.upstream = upstream.NewClient(time.Second, 10)

	out, err := f.billing.Execute(context.Background(), f.request("ref-big"))
	assert.Nil(t, out)

	var failure *UpstreamFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, upstream.KindUpstreamError, failure.Kind)
	assert.ErrorIs(t, failure.Err, pkgerrors.ErrResponseTooLarge)
	assert.Empty(t, failure.Body)
	assert.True(t, f.balanceOf(t).Equal(decimal.NewFromInt(100)))

	tx, err := f.billing.Transaction(context.Background(), "ref-big")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, tx.Outcome)
	assert.Equal(t, models.ReasonResponseTooLarge, tx.Reason)
	assert.True(t, tx.CostCharged.IsZero())
}

func TestBillingService_TimeoutIsNotCharged(t *testing.T) {
	release := make(chan struct{})
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	f := newFixture(t, "10.00", p, 50*time.Millisecond)

	_, err := f.billing.Execute(context.Background(), f.request("ref-e"))
	assert.ErrorIs(t, err, pkgerrors.ErrUpstreamTimeout)

	tx, err := f.billing.Transaction(context.Background(), "ref-e")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, tx.Outcome)
	assert.Equal(t, models.ReasonTimeout, tx.Reason)
	assert.True(t, f.balanceOf(t).Equal(decimal.NewFromInt(10)))
}

func TestBillingService_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	gate := make(chan struct{})
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		<-gate
		w.Write([]byte(`{"status":true}`))
	})
	f := newFixture(t, "5.00", p, 5*time.Second)

	const callers = 10
	var wg sync.WaitGroup
	var charged, uncharged, rejected atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.billing.Execute(context.Background(), f.request(""))
			switch {
			case err == nil && out.Charged.IsPositive():
				charged.Add(1)
			case err == nil:
				uncharged.Add(1)
			case errors.Is(err, pkgerrors.ErrInsufficientFunds):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(2), charged.Load())
	assert.Equal(t, int32(callers), charged.Load()+uncharged.Load()+rejected.Load())
	assert.True(t, f.balanceOf(t).IsZero())

	successes := 0
	for _, tx := range f.store.Transactions() {
		assert.NotEqual(t, models.OutcomePending, tx.Outcome)
		if tx.Outcome == models.OutcomeSuccess {
			successes++
		} else {
			assert.Equal(t, models.ReasonInsufficientFundsAtSettlement, tx.Reason)
			assert.True(t, tx.CostCharged.IsZero())
		}
	}
	assert.Equal(t, 2, successes)
}

func TestBillingService_DuplicateReferenceChargesOnce(t *testing.T) {
	p := okProvider(t)
	f := newFixture(t, "10.00", p, time.Second)

	_, err := f.billing.Execute(context.Background(), f.request("client-ref"))
	require.NoError(t, err)

	_, err = f.billing.Execute(context.Background(), f.request("client-ref"))
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateReference)
	assert.Equal(t, int32(1), p.hits.Load())
	assert.True(t, f.balanceOf(t).Equal(decimal.RequireFromString("7.5")))
}

func TestBillingService_CallerCancellationStillSettles(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Write([]byte(`{"status":true}`))
	})
	f := newFixture(t, "10.00", p, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.billing.Execute(ctx, f.request("ref-cancel"))
		done <- err
	}()

	<-started
	cancel()
	close(release)

	require.NoError(t, <-done)
	tx, err := f.billing.Transaction(context.Background(), "ref-cancel")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, tx.Outcome)
	assert.True(t, f.balanceOf(t).Equal(decimal.RequireFromString("7.5")))
}

func TestBillingService_Rejections(t *testing.T) {
	p := okProvider(t)
	f := newFixture(t, "10.00", p, time.Second)
	f.store.AddService(models.Service{
		Slug:             "electric",
		UnitCost:         decimal.NewFromInt(1),
		EndpointTemplate: p.server.URL + "/bill",
		URLMode:          models.URLModeBilledUtility,
		Enabled:          true,
	})
	f.store.AddService(models.Service{Slug: "retired", UnitCost: decimal.NewFromInt(1), Enabled: false})
	ctx := context.Background()

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"MissingType", Request{AccountID: f.account.ID, Data: "x"}, pkgerrors.ErrInvalidInput},
		{"MissingData", Request{AccountID: f.account.ID, ServiceSlug: "pan-verify"}, pkgerrors.ErrInvalidInput},
		{"UnknownService", Request{AccountID: f.account.ID, ServiceSlug: "nope", Data: "x"}, pkgerrors.ErrServiceNotFound},
		{"DisabledService", Request{AccountID: f.account.ID, ServiceSlug: "retired", Data: "x"}, pkgerrors.ErrServiceDisabled},
		{"MissingBiller", Request{AccountID: f.account.ID, ServiceSlug: "electric", Data: "123"}, pkgerrors.ErrInvalidInput},
		{"UnknownAccount", Request{AccountID: 999, ServiceSlug: "pan-verify", Data: "x"}, pkgerrors.ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.billing.Execute(ctx, tt.req)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, int32(0), p.hits.Load())
	assert.Empty(t, f.store.Transactions())
	assert.True(t, f.balanceOf(t).Equal(decimal.NewFromInt(10)))
}

func TestBillingService_DisabledAccount(t *testing.T) {
	p := okProvider(t)
	f := newFixture(t, "10.00", p, time.Second)
	f.store.SetAccountStatus(f.account.ID, models.AccountDisabled)

	_, err := f.billing.Execute(context.Background(), f.request(""))
	assert.ErrorIs(t, err, pkgerrors.ErrAccountDisabled)
	assert.Equal(t, int32(0), p.hits.Load())
}

func TestBillingService_BilledUtility(t *testing.T) {
	var gotBiller, gotConsumer string
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotBiller = r.URL.Query().Get("biller_id")
		gotConsumer = r.URL.Query().Get("consumer_number")
		w.Write([]byte(`{"due":"450.00"}`))
	})
	f := newFixture(t, "10.00", p, time.Second)
	f.store.AddService(models.Service{
		Slug:             "electric",
		UnitCost:         decimal.NewFromInt(1),
		EndpointTemplate: p.server.URL + "/bill",
		URLMode:          models.URLModeBilledUtility,
		Enabled:          true,
	})

	out, err := f.billing.Execute(context.Background(), Request{
		AccountID: f.account.ID, ServiceSlug: "electric", Data: "00123", BillerID: "MSEB",
	})
	require.NoError(t, err)
	assert.Equal(t, "MSEB", gotBiller)
	assert.Equal(t, "00123", gotConsumer)
	assert.True(t, out.Charged.Equal(decimal.NewFromInt(1)))
}

func TestBillingService_StorageFailures(t *testing.T) {
	t.Run("AnchorFailsBeforeUpstream", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		p := okProvider(t)
		f := newFixture(t, "10.00", p, time.Second)
		ledger := repositorymocks.NewMockTransactionRepository(ctrl)
		billing := NewBillingService(f.store, catalog.New(f.store, nil, 0), ledger, upstream.NewClient(time.Second, 0), nil)

		ledger.EXPECT().CreatePending(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

		_, err := billing.Execute(context.Background(), f.request(""))
		assert.ErrorIs(t, err, pkgerrors.ErrStorage)
		assert.Equal(t, int32(0), p.hits.Load())
	})

	t.Run("SettlementFailureLeavesPending", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		p := okProvider(t)
		f := newFixture(t, "10.00", p, time.Second)
		ledger := repositorymocks.NewMockTransactionRepository(ctrl)
		billing := NewBillingService(f.store, catalog.New(f.store, nil, 0), ledger, upstream.NewClient(time.Second, 0), nil)

		ledger.EXPECT().CreatePending(gomock.Any(), gomock.Any()).DoAndReturn(f.store.CreatePending)
		ledger.EXPECT().SettleSuccess(gomock.Any(), "ref-stuck", gomock.Any(), http.StatusOK).
			Return(nil, errors.New("connection reset"))

		_, err := billing.Execute(context.Background(), f.request("ref-stuck"))
		assert.ErrorIs(t, err, pkgerrors.ErrStorage)

		tx, err := f.store.GetByReference(context.Background(), "ref-stuck")
		require.NoError(t, err)
		assert.Equal(t, models.OutcomePending, tx.Outcome)
		assert.True(t, f.balanceOf(t).Equal(decimal.NewFromInt(10)))
	})

	t.Run("FailureSettlementLeavesPending", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		f := newFixture(t, "10.00", p, time.Second)
		ledger := repositorymocks.NewMockTransactionRepository(ctrl)
		billing := NewBillingService(f.store, catalog.New(f.store, nil, 0), ledger, upstream.NewClient(time.Second, 0), nil)

		ledger.EXPECT().CreatePending(gomock.Any(), gomock.Any()).DoAndReturn(f.store.CreatePending)
		ledger.EXPECT().SettleFailure(gomock.Any(), "ref-502", models.ReasonUpstreamError, http.StatusBadGateway).
			Return(nil, errors.New("connection reset"))

		_, err := billing.Execute(context.Background(), f.request("ref-502"))
		assert.ErrorIs(t, err, pkgerrors.ErrStorage)

		tx, err := f.store.GetByReference(context.Background(), "ref-502")
		require.NoError(t, err)
		assert.Equal(t, models.OutcomePending, tx.Outcome)
	})
}
