// Package transfer implements spec §4.C: filtering decoded instruction
// streams down to the native-currency transfers that matter to one crawl.
// Grounded on the original pipeline/processor/transfer_processor.rs, reworked
// into the teacher's "consume a channel, call out per item" idiom (see
// datasync/chaindatafetcher/chaindata_fetcher.go's handleRequest loop).
package transfer

import (
	"context"
	"time"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
	"github.com/rizilab/al-hafiz/internal/crawl"
	"github.com/rizilab/al-hafiz/internal/handler"
	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/watcherdecode"
)

var logger = xlog.NewModuleLogger(xlog.Transfer)

// Sender receives one qualifying transfer. In production this is the Creator
// Handler's ProcessSender mailbox call (§4.E); tests can supply a stub.
type Sender interface {
	ProcessSender(ctx context.Context, state *crawl.State, source, destination chaintypes.Address, amount float64, timestamp time.Time) error

	// HandleBackpressure re-queues source via unprocessed_accounts when
	// ProcessSender reports a full mailbox (spec §7 BackpressureError).
	HandleBackpressure(ctx context.Context, mint string, address chaintypes.Address)
}

// Processor consumes a decoded TransactionUpdate stream for one crawl and
// forwards qualifying transfers to a Sender.
type Processor struct {
	MinTransferAmount float64
	Sender            Sender
}

// New builds a Processor.
func New(minTransferAmount float64, sender Sender) *Processor {
	return &Processor{MinTransferAmount: minTransferAmount, Sender: sender}
}

// Run drains in until ctx is cancelled or in closes, calling Sender for
// every instruction that is a native transfer into the address currently at
// the head of state.history, meets the minimum amount, and isn't a self-loop
// (spec §4.C).
func (p *Processor) Run(ctx context.Context, state *crawl.State, in <-chan watcherdecode.TransactionUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-in:
			if !ok {
				return
			}
			p.handle(ctx, state, tx)
		}
	}
}

func (p *Processor) handle(ctx context.Context, state *crawl.State, tx watcherdecode.TransactionUpdate) {
	head, ok := state.CurrentHistoryHead()
	if !ok {
		return
	}
	timestamp := time.Now()
	if tx.BlockTime != nil {
		timestamp = *tx.BlockTime
	}
	for _, instr := range tx.Instructions {
		if instr.Kind != watcherdecode.InstructionNativeTransfer {
			continue
		}
		if instr.Destination != head {
			continue
		}
		if instr.Amount < p.MinTransferAmount {
			continue
		}
		if instr.Source == instr.Destination {
			continue
		}
		if err := p.Sender.ProcessSender(ctx, state, instr.Source, instr.Destination, instr.Amount, timestamp); err != nil {
			logger.Warn("process_sender_failed", "source", instr.Source.String(), "destination", instr.Destination.String(), "err", err)
			if err == handler.ErrMailboxFull {
				p.Sender.HandleBackpressure(ctx, state.Mint.String(), instr.Source)
			}
		}
	}
}
