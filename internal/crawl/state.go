package crawl

import (
	"context"
	"sync"

	"github.com/satori/go.uuid"
	"github.com/steakknife/bloomfilter"
	"go.uber.org/atomic"

	"github.com/rizilab/al-hafiz/internal/chaintypes"
)

// Status is the lifecycle state of a CrawlState (spec §3).
type Status string

const (
	StatusNewAccount  Status = "new_account"
	StatusUnprocessed Status = "unprocessed"
	StatusFailed      Status = "failed"
	StatusBfsQueue    Status = "bfs_queue"
)

// VisitEntry is the value half of the visited map: the shallowest depth at
// which addr has been reached, and the path recorded at that depth.
type VisitEntry struct {
	Depth int
	Path  []chaintypes.Address
}

// FrontierEntry is one pending expansion (spec §3 CrawlState.frontier).
type FrontierEntry struct {
	Address chaintypes.Address
	Depth   int
	Path    []chaintypes.Address
}

// bloomCapacity/bloomFalsePositive size the should-skip fast-path filter;
// a false positive only costs one extra map lookup under the RWMutex, a
// false negative is impossible by construction (see noteInBloom).
const (
	bloomCapacity       = 1 << 20
	bloomFalsePositive  = 1e-4
)

// State is the shared, concurrently-accessed per-crawl state of spec §4.D.
type State struct {
	Mint            chaintypes.Address
	OriginalCreator chaintypes.Address
	MaxDepth        int

	// CrawlID correlates every log line emitted across this crawl's
	// lifetime, since one crawl fans out across many goroutines.
	CrawlID uuid.UUID

	mu       sync.RWMutex
	visited  map[chaintypes.Address]VisitEntry
	inFlight map[chaintypes.Address]struct{}

	frontierMu sync.Mutex
	frontier   []FrontierEntry
	notify     chan struct{}

	historyMu sync.RWMutex
	history   []chaintypes.Address

	completionLatch *atomic.Bool

	statusMu    sync.Mutex
	status      Status
	retryCount  int

	bloom *bloomfilter.Filter
}

// NewState constructs the shared state for one crawl rooted at creator.
func NewState(mint, creator chaintypes.Address, maxDepth int) *State {
	bf, err := bloomfilter.NewOptimal(bloomCapacity, bloomFalsePositive)
	if err != nil {
		bf = nil
	}
	return &State{
		Mint:            mint,
		OriginalCreator: creator,
		MaxDepth:        maxDepth,
		CrawlID:         uuid.NewV4(),
		visited:         make(map[chaintypes.Address]VisitEntry),
		inFlight:        make(map[chaintypes.Address]struct{}),
		notify:          make(chan struct{}, 1),
		completionLatch: atomic.NewBool(false),
		status:          StatusNewAccount,
		bloom:           bf,
	}
}

func (s *State) noteInBloom(addr chaintypes.Address) {
	if s.bloom == nil {
		return
	}
	s.bloom.Add(addressHash(addr))
}

func (s *State) maybeSeen(addr chaintypes.Address) bool {
	if s.bloom == nil {
		return true // no fast path available, fall through to the real check
	}
	return s.bloom.Contains(addressHash(addr))
}

// PushFrontier appends entry to the unbounded FIFO (spec §4.D).
func (s *State) PushFrontier(entry FrontierEntry) {
	s.frontierMu.Lock()
	s.frontier = append(s.frontier, entry)
	s.frontierMu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// TryPopFrontier removes and returns the oldest frontier entry without
// blocking, ok=false if the frontier is currently empty.
func (s *State) TryPopFrontier() (FrontierEntry, bool) {
	s.frontierMu.Lock()
	defer s.frontierMu.Unlock()
	if len(s.frontier) == 0 {
		return FrontierEntry{}, false
	}
	e := s.frontier[0]
	s.frontier = s.frontier[1:]
	return e, true
}

// PopFrontier blocks (via the caller's select on ctx.Done()) until an entry
// is available or ctx is cancelled.
func (s *State) PopFrontier(ctx context.Context) (FrontierEntry, bool) {
	for {
		if e, ok := s.TryPopFrontier(); ok {
			return e, true
		}
		select {
		case <-ctx.Done():
			return FrontierEntry{}, false
		case <-s.notify:
		}
	}
}

// FrontierLen reports the current queue depth, used by TryClaimCompletion.
func (s *State) FrontierLen() int {
	s.frontierMu.Lock()
	defer s.frontierMu.Unlock()
	return len(s.frontier)
}

// MarkVisited writes (depth, path) iff depth <= existing.depth or absent —
// the cycle-break rule of spec §4.D.
func (s *State) MarkVisited(addr chaintypes.Address, depth int, path []chaintypes.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.visited[addr]; ok && existing.Depth < depth {
		return
	}
	cp := make([]chaintypes.Address, len(path))
	copy(cp, path)
	s.visited[addr] = VisitEntry{Depth: depth, Path: cp}
	s.noteInBloom(addr)
}

// IsVisited reports whether addr has an entry in the visited map.
func (s *State) IsVisited(addr chaintypes.Address) bool {
	if !s.maybeSeen(addr) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.visited[addr]
	return ok
}

// VisitedDepth returns the depth at which addr was marked visited.
func (s *State) VisitedDepth(addr chaintypes.Address) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.visited[addr]
	return e.Depth, ok
}

// PathTo returns the path recorded when addr was marked visited, or nil.
func (s *State) PathTo(addr chaintypes.Address) []chaintypes.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.visited[addr]
	if !ok {
		return nil
	}
	cp := make([]chaintypes.Address, len(e.Path))
	copy(cp, e.Path)
	return cp
}

// Visited returns a snapshot of the visited map, used by invariant tests.
func (s *State) Visited() map[chaintypes.Address]VisitEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[chaintypes.Address]VisitEntry, len(s.visited))
	for k, v := range s.visited {
		cp := make([]chaintypes.Address, len(v.Path))
		copy(cp, v.Path)
		out[k] = VisitEntry{Depth: v.Depth, Path: cp}
	}
	return out
}

// BeginProcessing atomically inserts addr into the in-flight set, returning
// true iff it was not already present.
func (s *State) BeginProcessing(addr chaintypes.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[addr]; ok {
		return false
	}
	s.inFlight[addr] = struct{}{}
	s.noteInBloom(addr)
	return true
}

// EndProcessing atomically removes addr from the in-flight set, returning
// true iff it was present.
func (s *State) EndProcessing(addr chaintypes.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[addr]; !ok {
		return false
	}
	delete(s.inFlight, addr)
	return true
}

// InFlightLen reports the number of addresses still being scanned, used by
// TryClaimCompletion.
func (s *State) InFlightLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inFlight)
}

// ShouldSkip is visited OR in-flight (spec §4.D).
func (s *State) ShouldSkip(addr chaintypes.Address) bool {
	if !s.maybeSeen(addr) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.visited[addr]; ok {
		return true
	}
	_, ok := s.inFlight[addr]
	return ok
}

// PushHistory records addr as the most recently scheduled address being
// resolved, used by the Transfer Processor to identify its current target
// (spec §3 CrawlState.history).
func (s *State) PushHistory(addr chaintypes.Address) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append(s.history, addr)
}

// PopHistory removes and returns the most recently pushed address.
func (s *State) PopHistory() (chaintypes.Address, bool) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	if len(s.history) == 0 {
		return chaintypes.Address{}, false
	}
	n := len(s.history) - 1
	addr := s.history[n]
	s.history = s.history[:n]
	return addr, true
}

// CurrentHistoryHead returns the address at the head of history without
// popping it — the Transfer Processor's "address currently being resolved".
func (s *State) CurrentHistoryHead() (chaintypes.Address, bool) {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	if len(s.history) == 0 {
		return chaintypes.Address{}, false
	}
	return s.history[len(s.history)-1], true
}

// TryClaimCompletion returns true iff the frontier is empty AND nothing is
// in-flight AND this call is the one that flips the completion latch from
// false to true — spec §4.D / invariant 2 of §8. The empty-queue check and
// the CAS must be evaluated so that only one caller observes "both empty"
// at the moment it wins the CAS; a lost race (someone pushes to the
// frontier between the check and the CAS) simply means this caller loses
// the CAS or the next caller re-observes a non-empty frontier.
func (s *State) TryClaimCompletion() bool {
	if s.FrontierLen() != 0 || s.InFlightLen() != 0 {
		return false
	}
	return s.completionLatch.CAS(false, true)
}

// IsComplete reports the current value of the completion latch without
// attempting to claim it.
func (s *State) IsComplete() bool { return s.completionLatch.Load() }

// SetStatus updates the lifecycle status (spec §3).
func (s *State) SetStatus(status Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
}

func (s *State) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// IncrementRetry bumps retry_count, returning the new value.
func (s *State) IncrementRetry() int {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.retryCount++
	return s.retryCount
}

func (s *State) RetryCount() int {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.retryCount
}

// addressHash folds a 32-byte address into the uint64 the bloom filter
// library expects as a pre-hashed member key.
func addressHash(addr chaintypes.Address) bloomfilter.Hash64 {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	for _, b := range addr {
		h ^= uint64(b)
		h *= 1099511628211 // FNV-1a prime
	}
	return bloomfilter.Hash64(h)
}
