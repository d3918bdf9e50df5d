package watcherdecode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
)

func addrW(b byte) chaintypes.Address {
	var a chaintypes.Address
	a[len(a)-1] = b
	return a
}

func TestFilter_Matches_EmptyFilterMatchesEverything(t *testing.T) {
	f := Filter{}
	tx := TransactionUpdate{StaticAddresses: []chaintypes.Address{addrW(1)}}
	assert.True(t, f.Matches(tx))
}

func TestFilter_Matches_StaticAddressHit(t *testing.T) {
	f := Filter{Accounts: map[chaintypes.Address]struct{}{addrW(2): {}}}
	tx := TransactionUpdate{StaticAddresses: []chaintypes.Address{addrW(1), addrW(2)}}
	assert.True(t, f.Matches(tx))
}

func TestFilter_Matches_LoadedAddressHit(t *testing.T) {
	f := Filter{Accounts: map[chaintypes.Address]struct{}{addrW(3): {}}}
	tx := TransactionUpdate{LoadedAddresses: []chaintypes.Address{addrW(3)}}
	assert.True(t, f.Matches(tx))
}

func TestFilter_Matches_NoIntersectionReturnsFalse(t *testing.T) {
	f := Filter{Accounts: map[chaintypes.Address]struct{}{addrW(9): {}}}
	tx := TransactionUpdate{
		StaticAddresses: []chaintypes.Address{addrW(1)},
		LoadedAddresses: []chaintypes.Address{addrW(2)},
	}
	assert.False(t, f.Matches(tx))
}
