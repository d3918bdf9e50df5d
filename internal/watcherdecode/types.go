// Package watcherdecode defines the decoded-instruction surface the
// Analyzer consumes. The actual chain-event decoder library is named in
// spec §1 as an out-of-scope external collaborator; this package only
// carries the shapes downstream stages (§4.B, §4.C) need, the way a
// consuming service defines its own narrow view of an upstream payload
// instead of importing the producer's full SDK.
package watcherdecode

import (
	"time"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
)

// InstructionKind distinguishes a native-currency transfer from everything
// else a transaction can contain; non-transfer instructions are ignored
// per spec §4.C.
type InstructionKind int

const (
	InstructionOther InstructionKind = iota
	InstructionNativeTransfer
)

// Instruction is one decoded instruction inside a transaction.
type Instruction struct {
	Kind        InstructionKind
	Source      chaintypes.Address
	Destination chaintypes.Address
	Amount      float64 // native currency units
}

// TransactionUpdate is the decode & filter stage's output (spec §4.B stage 3):
// a transaction that passed status/meta checks and the caller's address
// filter, carrying its constituent instructions.
type TransactionUpdate struct {
	Signature        chaintypes.Signature
	Slot             uint64
	BlockTime         *time.Time // nil when absent; callers fall back to "now"
	StaticAddresses   []chaintypes.Address
	LoadedAddresses   []chaintypes.Address
	Instructions      []Instruction
	Failed            bool
	MissingMeta       bool
	DecodeFailed      bool
}

// Filter narrows a signature/transaction scan to transactions whose static
// or loaded addresses touch a known account set (spec §4.B stage 3 "Intersect ... against the filter's
// account set if provided").
type Filter struct {
	Accounts map[chaintypes.Address]struct{} // nil/empty means no filter
}

func (f Filter) matches(addrs []chaintypes.Address) bool {
	if len(f.Accounts) == 0 {
		return true
	}
	for _, a := range addrs {
		if _, ok := f.Accounts[a]; ok {
			return true
		}
	}
	return false
}

// Matches reports whether tx's static+loaded addresses intersect the
// filter's account set.
func (f Filter) Matches(tx TransactionUpdate) bool {
	if f.matches(tx.StaticAddresses) {
		return true
	}
	return f.matches(tx.LoadedAddresses)
}
