package fetcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
	"github.com/rizilab/al-hafiz/internal/config"
	"github.com/rizilab/al-hafiz/internal/rpcpool"
	"github.com/rizilab/al-hafiz/internal/watcherdecode"
)

func sigF(b byte) chaintypes.Signature {
	var s chaintypes.Signature
	s[len(s)-1] = b
	return s
}

func addrF(b byte) chaintypes.Address {
	var a chaintypes.Address
	a[len(a)-1] = b
	return a
}

type stubChainClient struct {
	mu   sync.Mutex
	sigs []SignatureInfo
	txs  map[chaintypes.Signature]*watcherdecode.TransactionUpdate
	errs map[chaintypes.Signature]error
}

func (s *stubChainClient) ListSignatures(ctx context.Context, client *rpcpool.Client, addr chaintypes.Address, before, until *chaintypes.Signature, limit int) ([]SignatureInfo, error) {
	return s.sigs, nil
}

func (s *stubChainClient) GetTransaction(ctx context.Context, client *rpcpool.Client, sig chaintypes.Signature, commitment Commitment) (*watcherdecode.TransactionUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[sig]; ok {
		return nil, err
	}
	return s.txs[sig], nil
}

func testPool() *rpcpool.Pool {
	cfg := config.RPCConfig{Providers: []config.RPCProvider{
		{Name: "p1", URL: "example.invalid", RateLimit: 1000, Role: config.RoleAll},
	}}
	return rpcpool.New(cfg, rpcpool.BackoffConfig{Base: time.Millisecond, Max: 10 * time.Millisecond, MaxRetries: 2})
}

func TestRun_StreamsDecodedTransactionsMatchingFilter(t *testing.T) {
	sig1 := sigF(1)
	client := &stubChainClient{
		sigs: []SignatureInfo{{Signature: sig1}},
		txs: map[chaintypes.Signature]*watcherdecode.TransactionUpdate{
			sig1: {Signature: sig1, StaticAddresses: []chaintypes.Address{addrF(5)}},
		},
	}

	f := New(testPool(), client, 100)
	out, _ := f.Run(context.Background(), addrF(5), Options{
		Filter:     watcherdecode.Filter{Accounts: map[chaintypes.Address]struct{}{addrF(5): {}}},
		MaxRetries: 0,
	})

	var got []watcherdecode.TransactionUpdate
	for tx := range out {
		got = append(got, tx)
	}
	require.Len(t, got, 1)
	assert.Equal(t, sig1, got[0].Signature)
}

func TestRun_FiltersOutFailedTransactions(t *testing.T) {
	sig1 := sigF(2)
	client := &stubChainClient{
		sigs: []SignatureInfo{{Signature: sig1}},
		txs: map[chaintypes.Signature]*watcherdecode.TransactionUpdate{
			sig1: {Signature: sig1, Failed: true},
		},
	}

	f := New(testPool(), client, 100)
	out, _ := f.Run(context.Background(), addrF(6), Options{MaxRetries: 0})

	var got []watcherdecode.TransactionUpdate
	for tx := range out {
		got = append(got, tx)
	}
	assert.Empty(t, got)
}

func TestRun_SkipsNotFoundWithoutRetrying(t *testing.T) {
	sig1 := sigF(3)
	client := &stubChainClient{
		sigs: []SignatureInfo{{Signature: sig1}},
		txs:  map[chaintypes.Signature]*watcherdecode.TransactionUpdate{},
		errs: map[chaintypes.Signature]error{sig1: ErrNotFound},
	}

	f := New(testPool(), client, 100)
	out, result := f.Run(context.Background(), addrF(7), Options{MaxRetries: 3})
	done := make(chan struct{})
	var got []watcherdecode.TransactionUpdate
	go func() {
		for tx := range out {
			got = append(got, tx)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not finish promptly for a not-found signature")
	}
	assert.Empty(t, got)
	assert.False(t, result.Failed.Load(), "a skip-not-retry error is not a pipeline failure")
}

func TestRun_ClosesOutputOnContextCancel(t *testing.T) {
	client := &stubChainClient{sigs: nil}
	f := New(testPool(), client, 100)

	ctx, cancel := context.WithCancel(context.Background())
	out, _ := f.Run(ctx, addrF(8), Options{})
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected output channel to close after cancel")
	}
}

func TestNew_NormalizesNonPositiveDedupeSize(t *testing.T) {
	f := New(testPool(), &stubChainClient{}, 0)
	require.NotNil(t, f.dedupe)
}

type listSignaturesErrClient struct {
	stubChainClient
	err error
}

func (c *listSignaturesErrClient) ListSignatures(ctx context.Context, client *rpcpool.Client, addr chaintypes.Address, before, until *chaintypes.Signature, limit int) ([]SignatureInfo, error) {
	return nil, c.err
}

func TestRun_MarksResultFailedWhenSignatureListingNeverSucceeds(t *testing.T) {
	client := &listSignaturesErrClient{err: assert.AnError}
	f := New(testPool(), client, 100)

	out, result := f.Run(context.Background(), addrF(9), Options{MaxRetries: 0})
	for range out {
	}
	assert.True(t, result.Failed.Load())
}
