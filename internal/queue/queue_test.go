package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
)

type fakeLauncher struct {
	calls []Entry
	err   error
}

func (f *fakeLauncher) LaunchCrawl(ctx context.Context, entry Entry) error {
	f.calls = append(f.calls, entry)
	return f.err
}

func addrQ(b byte) chaintypes.Address {
	var a chaintypes.Address
	a[len(a)-1] = b
	return a
}

func TestRecoverFailedEntry_DeadLettersAtRetryLimit(t *testing.T) {
	launcher := &fakeLauncher{}
	m := &Manager{launcher: launcher, maxDepth: 7}

	entry := Entry{Mint: "m1", Account: addrQ(1), RetryCount: maxRetriesBeforeDeadLetter}
	m.recoverFailedEntry(context.Background(), entry)

	assert.Empty(t, launcher.calls, "dead-lettered entries must never reach the launcher")
}

func TestRecoverFailedEntry_NormalizesZeroMaxDepth(t *testing.T) {
	launcher := &fakeLauncher{}
	m := &Manager{launcher: launcher, maxDepth: 7}

	entry := Entry{Mint: "m1", Account: addrQ(1), RetryCount: 0, MaxDepth: 0}
	m.recoverFailedEntry(context.Background(), entry)

	require.Len(t, launcher.calls, 1)
	assert.Equal(t, 7, launcher.calls[0].MaxDepth)
}

func TestRecoverFailedEntry_PreservesExplicitMaxDepth(t *testing.T) {
	launcher := &fakeLauncher{}
	m := &Manager{launcher: launcher, maxDepth: 7}

	entry := Entry{Mint: "m1", Account: addrQ(1), MaxDepth: 3}
	m.recoverFailedEntry(context.Background(), entry)

	require.Len(t, launcher.calls, 1)
	assert.Equal(t, 3, launcher.calls[0].MaxDepth)
}

func TestRecoverUnprocessedEntry_NormalizesZeroMaxDepth(t *testing.T) {
	launcher := &fakeLauncher{}
	m := &Manager{launcher: launcher, maxDepth: 9}

	entry := Entry{Mint: "m1", Account: addrQ(1)}
	m.recoverUnprocessedEntry(context.Background(), entry)

	require.Len(t, launcher.calls, 1)
	assert.Equal(t, 9, launcher.calls[0].MaxDepth)
}

func TestRecoverUnprocessedEntry_LaunchesExactlyOnceOnSuccess(t *testing.T) {
	launcher := &fakeLauncher{}
	m := &Manager{launcher: launcher, maxDepth: 9}

	entry := Entry{Mint: "m1", Account: addrQ(1), MaxDepth: 2}
	m.recoverUnprocessedEntry(context.Background(), entry)

	assert.Len(t, launcher.calls, 1)
}
