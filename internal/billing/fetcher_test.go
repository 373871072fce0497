package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guied/internal/types"
)

type fakeProvider struct {
	payments     map[string]*types.PaymentRecord
	orders       map[string]*types.MerchantOrder
	paymentErr   error
	orderErr     error
	paymentCalls atomic.Int32
	orderCalls   atomic.Int32
	block        chan struct{}
	// honorCtx fails a payment call whose context is done once unblocked.
	honorCtx bool
}

func (f *fakeProvider) GetPayment(ctx context.Context, id string) (*types.PaymentRecord, error) {
	f.paymentCalls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.honorCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	if p, ok := f.payments[id]; ok {
		return p, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found", nil)
}

func (f *fakeProvider) GetMerchantOrder(ctx context.Context, id string) (*types.MerchantOrder, error) {
	f.orderCalls.Add(1)
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "merchant order not found", nil)
}

func approved(id string) *types.PaymentRecord {
	return &types.PaymentRecord{
		ID:        id,
		Status:    types.PaymentStatusApproved,
		RawStatus: "approved",
		Metadata:  map[string]string{"user_id": testSub, "plan": "pro"},
	}
}

func TestFetch_DirectPayment(t *testing.T) {
	p := &fakeProvider{payments: map[string]*types.PaymentRecord{"P1": approved("P1")}}
	f := NewPaymentFetcher(p, nil)

	rec, err := f.Fetch(context.Background(), Notification{Kind: NotificationDirectPayment, PaymentID: "P1"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "P1", rec.ID)
	assert.Equal(t, int32(0), p.orderCalls.Load())
}

func TestFetch_Unrecognized(t *testing.T) {
	p := &fakeProvider{}
	f := NewPaymentFetcher(p, nil)

	rec, err := f.Fetch(context.Background(), Notification{Kind: NotificationUnrecognized})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, int32(0), p.paymentCalls.Load())
}

func TestFetch_PaymentNotFound(t *testing.T) {
	f := NewPaymentFetcher(&fakeProvider{}, nil)

	rec, err := f.Fetch(context.Background(), Notification{Kind: NotificationTopLevelID, PaymentID: "nope"})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFetch_ProviderError(t *testing.T) {
	upstream := types.NewAppError(types.ErrCodeUpstreamPaymentProvider, "boom", nil)
	f := NewPaymentFetcher(&fakeProvider{paymentErr: upstream}, nil)

	rec, err := f.Fetch(context.Background(), Notification{Kind: NotificationDirectPayment, PaymentID: "P1"})
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, upstream))
}

func TestFetch_OrderPointer(t *testing.T) {
	p := &fakeProvider{
		payments: map[string]*types.PaymentRecord{"P7": approved("P7")},
		orders: map[string]*types.MerchantOrder{
			"O1": {ID: "O1", PaymentIDs: []string{"P7", "P8"}},
			"O2": {ID: "O2"},
		},
	}
	f := NewPaymentFetcher(p, nil)

	rec, err := f.Fetch(context.Background(), Notification{Kind: NotificationOrderPointer, OrderID: "O1"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "P7", rec.ID)

	rec, err = f.Fetch(context.Background(), Notification{Kind: NotificationOrderPointer, OrderID: "O2"})
	require.NoError(t, err)
	assert.Nil(t, rec, "order without payments yields nothing")

	rec, err = f.Fetch(context.Background(), Notification{Kind: NotificationOrderPointer, OrderID: "missing"})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFetch_ReturnsCopy(t *testing.T) {
	orig := approved("P1")
	f := NewPaymentFetcher(&fakeProvider{payments: map[string]*types.PaymentRecord{"P1": orig}}, nil)

	rec, err := f.Fetch(context.Background(), Notification{Kind: NotificationDirectPayment, PaymentID: "P1"})
	require.NoError(t, err)
	rec.RawStatus = "mutated"
	assert.Equal(t, "approved", orig.RawStatus)
}

func TestFetch_CollapsesConcurrentCalls(t *testing.T) {
	p := &fakeProvider{
		payments: map[string]*types.PaymentRecord{"P1": approved("P1")},
		block:    make(chan struct{}),
	}
	f := NewPaymentFetcher(p, nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan *types.PaymentRecord, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := f.Fetch(context.Background(), Notification{Kind: NotificationDirectPayment, PaymentID: "P1"})
			if err == nil {
				results <- rec
			}
		}()
	}

	// Let every caller reach the shared flight before releasing it.
	require.Eventually(t, func() bool { return p.paymentCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.block)
	wg.Wait()
	close(results)

	n := 0
	for rec := range results {
		assert.Equal(t, "P1", rec.ID)
		n++
	}
	assert.Equal(t, callers, n)
	assert.LessOrEqual(t, p.paymentCalls.Load(), int32(callers))
}

func TestFetch_SharedCallSurvivesCanceledLeader(t *testing.T) {
	p := &fakeProvider{
		payments: map[string]*types.PaymentRecord{"P1": approved("P1")},
		block:    make(chan struct{}),
		honorCtx: true,
	}
	f := NewPaymentFetcher(p, nil)
	n := Notification{Kind: NotificationDirectPayment, PaymentID: "P1"}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := f.Fetch(leaderCtx, n)
		leaderDone <- err
	}()
	require.Eventually(t, func() bool { return p.paymentCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	followerDone := make(chan *types.PaymentRecord, 1)
	go func() {
		rec, err := f.Fetch(context.Background(), n)
		if err != nil {
			rec = nil
		}
		followerDone <- rec
	}()
	time.Sleep(20 * time.Millisecond)

	// The leader's delivery goes away before the provider answers.
	cancel()
	close(p.block)

	require.NoError(t, <-leaderDone)
	rec := <-followerDone
	require.NotNil(t, rec, "follower must not inherit the leader's cancellation")
	assert.Equal(t, "P1", rec.ID)
}
