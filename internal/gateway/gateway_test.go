package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jafarshop/labconnect/internal/breaker"
	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/credential"
	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/partner"
	"github.com/jafarshop/labconnect/internal/queue"
	"github.com/jafarshop/labconnect/internal/repository/memory"
	"github.com/jafarshop/labconnect/pkg/errors"
)

type fakeCredentials struct {
	mu          sync.Mutex
	issued      int
	invalidated []string
	err         error
}

func (f *fakeCredentials) Credential(ctx context.Context, p domain.Principal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.issued++
	return "key-" + string(rune('0'+f.issued)), nil
}

func (f *fakeCredentials) Invalidate(ctx context.Context, p domain.Principal, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, credential)
	return nil
}

var principal = domain.Principal{OperatorID: "op-1", SourceAddress: "10.0.0.7"}

func newTestDispatcher(t *testing.T, minDelay time.Duration) (*Dispatcher, *breaker.Breaker) {
	t.Helper()
	b := breaker.New(breaker.Config{Name: "partner-test", Timeout: time.Minute}, nil)
	q := queue.New(queue.Config{MinDelay: minDelay}, nil)
	q.Start()
	t.Cleanup(q.Close)
	return NewDispatcher(b, q, minDelay, nil), b
}

func rejected() error {
	return &errors.ErrPartnerRequest{Operation: "order-status", StatusCode: 401, Err: partner.ErrCredentialRejected}
}

func TestGateway_PassesCredentialToCall(t *testing.T) {
	d, _ := newTestDispatcher(t, 0)
	creds := &fakeCredentials{}
	g := New(d, creds, nil)

	var got string
	err := g.Execute(context.Background(), principal, func(ctx context.Context, credential string) error {
		got = credential
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "key-1", got)
	assert.Equal(t, int64(1), g.Stats().Queue.Processed)
}

func TestGateway_OpenCircuitRejectsWithoutCalling(t *testing.T) {
	d, b := newTestDispatcher(t, 0)
	g := New(d, &fakeCredentials{}, nil)
	ctx := context.Background()
	boom := stderrors.New("503")

	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		err := g.Execute(ctx, principal, func(context.Context, string) error { return boom })
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, breaker.Open, b.State())

	called := false
	err := g.Execute(ctx, principal, func(context.Context, string) error {
		called = true
		return nil
	})

	var unavailable *errors.ErrPartnerUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.False(t, unavailable.RetryAt.IsZero())
	assert.False(t, called)
	assert.Equal(t, errors.KindPartnerUnavailable, errors.KindOf(err))
	assert.Equal(t, "OPEN", g.Stats().Breaker.State)
}

func TestGateway_RejectedCredentialIsReplacedOnce(t *testing.T) {
	d, _ := newTestDispatcher(t, 0)
	creds := &fakeCredentials{}
	g := New(d, creds, nil)

	var seen []string
	err := g.Execute(context.Background(), principal, func(ctx context.Context, credential string) error {
		seen = append(seen, credential)
		if credential == "key-1" {
			return rejected()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"key-1", "key-2"}, seen)
	assert.Equal(t, []string{"key-1"}, creds.invalidated)
}

func TestGateway_SecondRejectionIsCredentialExpired(t *testing.T) {
	d, _ := newTestDispatcher(t, 0)
	creds := &fakeCredentials{}
	g := New(d, creds, nil)

	calls := 0
	err := g.Execute(context.Background(), principal, func(context.Context, string) error {
		calls++
		return rejected()
	})

	var expired *errors.ErrCredentialExpired
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, "op-1", expired.OperatorID)
	assert.Equal(t, 2, calls)
	assert.Len(t, creds.invalidated, 2)
}

func TestGateway_CredentialFailureSkipsDispatch(t *testing.T) {
	d, _ := newTestDispatcher(t, 0)
	loginErr := &errors.ErrCredentialAcquisition{OperatorID: "op-1", Err: stderrors.New("bad password")}
	g := New(d, &fakeCredentials{err: loginErr}, nil)

	called := false
	err := g.Execute(context.Background(), principal, func(context.Context, string) error {
		called = true
		return nil
	})

	assert.Equal(t, errors.KindCredentialAcquisition, errors.KindOf(err))
	assert.False(t, called)
	assert.Equal(t, int64(0), g.Stats().Queue.Processed)
}

// newPartnerStack wires the real credential manager and partner client to handler
func newPartnerStack(t *testing.T, handler http.HandlerFunc) (*Gateway, *partner.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.PartnerConfig{BaseURL: srv.URL, Username: "merchant", Password: "secret", Timeout: 5 * time.Second}
	client := partner.NewClient(cfg, nil)
	d, _ := newTestDispatcher(t, 0)
	manager := credential.NewManager(memory.NewSessionRepository(), client, d, credential.FixedTTL{TTL: time.Hour}, cfg, nil)
	return New(d, manager, nil), client
}

func TestGateway_LoginRejectionIsAcquisitionFailure(t *testing.T) {
	var logins, calls atomic.Int32
	g, client := newPartnerStack(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			logins.Add(1)
		} else {
			calls.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := g.Execute(context.Background(), principal, func(ctx context.Context, credential string) error {
		_, err := client.OrderStatus(ctx, credential, "LAB-1")
		return err
	})

	require.Error(t, err)
	assert.Equal(t, errors.KindCredentialAcquisition, errors.KindOf(err))
	assert.Equal(t, int32(1), logins.Load())
	assert.Equal(t, int32(0), calls.Load())
}

func TestGateway_RejectedCallLogsInAgainThroughRealClient(t *testing.T) {
	var logins atomic.Int32
	g, client := newPartnerStack(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			n := logins.Add(1)
			json.NewEncoder(w).Encode(partner.LoginResponse{RespID: "RES00001", APIKey: fmt.Sprintf("key-%d", n)})
		default:
			if r.Header.Get("Authorization") == "Bearer key-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(partner.OrderStatusResponse{RespID: "RES00001", OrderNo: "LAB-1", Status: "ASSIGNED"})
		}
	})

	var status string
	err := g.Execute(context.Background(), principal, func(ctx context.Context, credential string) error {
		resp, err := client.OrderStatus(ctx, credential, "LAB-1")
		if err != nil {
			return err
		}
		status = resp.Status
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ASSIGNED", status)
	assert.Equal(t, int32(2), logins.Load())
}

func TestDispatcher_AbandonedCallerDoesNotTripBreaker(t *testing.T) {
	d, b := newTestDispatcher(t, 300*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, d.Do(ctx, queue.Normal, func(context.Context) error { return nil }))

	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		err := d.Do(waitCtx, queue.Normal, func(context.Context) error { return nil })
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}

	assert.Equal(t, breaker.Closed, b.State())
	assert.Equal(t, 0, b.Snapshot().FailureCount)
}

func TestDispatcher_RecordsMetrics(t *testing.T) {
	d, _ := newTestDispatcher(t, 0)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	metrics, err := NewMetrics(provider.Meter("gateway-test"), d)
	require.NoError(t, err)
	d.SetMetrics(metrics)

	ctx := context.Background()
	require.NoError(t, d.Do(ctx, queue.Normal, func(context.Context) error { return nil }))
	require.Error(t, d.Do(ctx, queue.High, func(context.Context) error { return stderrors.New("boom") }))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	outcomes := map[string]int64{}
	var sawDepth, sawWait bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "partner.calls":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					outcome, _ := dp.Attributes.Value("outcome")
					outcomes[outcome.AsString()] += dp.Value
				}
			case "partner.queue.depth":
				sawDepth = true
			case "partner.queue.wait":
				sawWait = true
			}
		}
	}

	assert.Equal(t, int64(1), outcomes[outcomeSuccess])
	assert.Equal(t, int64(1), outcomes[outcomeFailure])
	assert.True(t, sawDepth)
	assert.True(t, sawWait)
}
