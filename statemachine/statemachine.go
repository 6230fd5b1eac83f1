// Package statemachine executes a block's transactions against a
// state snapshot (spec.md §4.2). Per-transaction signature checks are
// CPU-bound and independent of one another, so they run on an
// errgroup-bounded worker pool ahead of the strictly sequential
// nonce-check/dispatch/apply pass, following the teacher's pattern of
// keeping expensive verification off whatever goroutine drives the
// network event loop.
package statemachine

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/veritaschain/consensus-core/crypto/merkle"
	"github.com/veritaschain/consensus-core/types"
)

// StateStore is a snapshot-capable key-value view over module state,
// scoped to one block's execution. Discard must be safe to call once
// execution has finished, whether it succeeded or failed.
type StateStore interface {
	Get(module, key string) ([]byte, error)
	Set(module, key string, value []byte) error
	// Diff returns the accumulated set of (module, key, oldValue)
	// writes made through this snapshot, oldest first, for revert.
	Diff() []DiffEntry
	Discard()
}

// DiffEntry records a single state mutation for undo purposes.
type DiffEntry struct {
	Module   string
	Key      string
	OldValue []byte
	NewValue []byte
}

// Module dispatches transactions for one (Module) namespace by
// AssetID. Each registered handler is expected to be deterministic:
// given the same transaction and state-before, it must produce the
// same state mutations and events on every node.
type Module interface {
	Name() string
	// VerifySignature is the CPU-bound, stateless check run
	// concurrently ahead of sequential dispatch (spec.md §4.2 step 2's
	// "signature check").
	VerifySignature(tx *types.Transaction) error
	// VerifyTransaction runs the remaining static checks against
	// current state (spec.md's "nonce check, module-assetID dispatch"
	// gate) before ApplyAsset mutates it.
	VerifyTransaction(s StateStore, tx *types.Transaction) error
	ApplyAsset(s StateStore, tx *types.Transaction) ([]Event, error)
}

// Event is a domain event emitted while applying a transaction or a
// block hook.
type Event struct {
	Module string
	Name   string
	Data   []byte
}

// Result is the output of a successful Execute.
type Result struct {
	StateRoot []byte
	Events    []Event
	Diff      []DiffEntry
}

// Executor runs blocks against registered modules.
type Executor struct {
	modules map[string]Module
	workers int
}

// New constructs an Executor. Each transaction's signature is checked
// independently, concurrently, bounded to runtime.GOMAXPROCS(0)
// workers in flight.
func New() *Executor {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	return &Executor{modules: make(map[string]Module), workers: workers}
}

func (e *Executor) Register(m Module) { e.modules[m.Name()] = m }

// HasModule reports whether a module is registered under name, for
// callers that need to validate a block's transactions before
// scheduling execution.
func (e *Executor) HasModule(name string) bool {
	_, ok := e.modules[name]
	return ok
}

// PreBlockHook and PostBlockHook let the consensus module run
// height-boundary logic (BFT parameter transitions, reward
// distribution) without the executor knowing about them.
type PreBlockHook func(s StateStore, b *types.Block) error
type PostBlockHook func(s StateStore, b *types.Block) ([]Event, error)

// Execute runs pre-block hook, per-transaction dispatch, and
// post-block hook against s. Any transaction error fails the whole
// block and the caller must discard s (spec.md §4.2).
func (e *Executor) Execute(ctx context.Context, b *types.Block, s StateStore, pre PreBlockHook, post PostBlockHook) (*Result, error) {
	if pre != nil {
		if err := pre(s, b); err != nil {
			return nil, fmt.Errorf("statemachine: pre-block hook: %w", err)
		}
	}

	if err := e.verifySignatures(ctx, b); err != nil {
		return nil, err
	}

	var events []Event
	seenNonce := make(map[types.Address]uint64, len(b.Payload))
	for i := range b.Payload {
		tx := &b.Payload[i]
		mod, ok := e.modules[tx.Module]
		if !ok {
			return nil, fmt.Errorf("statemachine: unknown module %q", tx.Module)
		}
		if last, ok := seenNonce[tx.SenderAddress]; ok && tx.Nonce <= last {
			return nil, fmt.Errorf("statemachine: non-increasing nonce for %s", tx.SenderAddress)
		}
		seenNonce[tx.SenderAddress] = tx.Nonce
		if err := mod.VerifyTransaction(s, tx); err != nil {
			return nil, fmt.Errorf("statemachine: transaction %d rejected: %w", i, err)
		}
		txEvents, err := mod.ApplyAsset(s, tx)
		if err != nil {
			return nil, fmt.Errorf("statemachine: applying transaction %d: %w", i, err)
		}
		events = append(events, txEvents...)
	}

	if post != nil {
		postEvents, err := post(s, b)
		if err != nil {
			return nil, fmt.Errorf("statemachine: post-block hook: %w", err)
		}
		events = append(events, postEvents...)
	}

	return &Result{
		StateRoot: stateRootOf(s),
		Events:    events,
		Diff:      s.Diff(),
	}, nil
}

// verifySignatures checks every transaction's signature concurrently,
// bounded to e.workers in flight, and returns the first failure
// encountered (spec.md I2).
func (e *Executor) verifySignatures(ctx context.Context, b *types.Block) error {
	if len(b.Payload) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range b.Payload {
		i := i
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			tx := &b.Payload[i]
			mod, ok := e.modules[tx.Module]
			if !ok {
				return fmt.Errorf("statemachine: unknown module %q", tx.Module)
			}
			return mod.VerifySignature(tx)
		})
	}
	return g.Wait()
}

// TransactionRoot computes the Merkle root over a block's transaction
// ids, in payload order (spec.md §3).
func TransactionRoot(payload []types.Transaction) []byte {
	leaves := make([][]byte, len(payload))
	for i := range payload {
		id := payload[i].ID()
		leaves[i] = id[:]
	}
	return merkle.HashFromByteSlices(leaves)
}

// stateRootOf returns the StateStore's own Root() when it implements
// one, and nil otherwise.
var stateRootOf = func(s StateStore) []byte {
	type rootHasher interface{ Root() []byte }
	if rh, ok := s.(rootHasher); ok {
		return rh.Root()
	}
	return nil
}
