// Package store is the on-disk persistence layer (spec.md §6): blocks
// keyed by height and by id, transactions keyed by id, per-module
// state, per-height diffs for revert, and the single finalized-height
// pointer. It is adapted from the teacher's internal/store block store,
// keeping its db-agnostic tm-db handle and orderedcode height keys but
// replacing protobuf block records with this module's own codec
// (types.EncodeBlock/DecodeBlock).
package store

import (
	"fmt"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/veritaschain/consensus-core/types"
)

// key prefixes, one int64 tag per record family so orderedcode keeps
// each family's keys contiguous and sorted by height where relevant.
const (
	prefixBlockByHeight = int64(0)
	prefixBlockIDIndex  = int64(1)
	prefixTx            = int64(2)
	prefixState         = int64(3)
	prefixDiff          = int64(4)
	prefixTemp          = int64(5)
	prefixFinalized     = int64(6)
)

// Store wraps a tm-db handle with the record layout the block
// processor, commit pool and state machine executor read and write.
type Store struct {
	db dbm.DB
}

func New(db dbm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func blockKey(height int64) []byte {
	key, err := orderedcode.Append(nil, prefixBlockByHeight, height)
	if err != nil {
		panic(err)
	}
	return key
}

func blockIDKey(id types.BlockID) []byte {
	key, err := orderedcode.Append(nil, prefixBlockIDIndex, string(id[:]))
	if err != nil {
		panic(err)
	}
	return key
}

func txKey(id types.BlockID) []byte {
	key, err := orderedcode.Append(nil, prefixTx, string(id[:]))
	if err != nil {
		panic(err)
	}
	return key
}

func stateKey(module, key string) []byte {
	k, err := orderedcode.Append(nil, prefixState, module, key)
	if err != nil {
		panic(err)
	}
	return k
}

func diffKey(height int64) []byte {
	key, err := orderedcode.Append(nil, prefixDiff, height)
	if err != nil {
		panic(err)
	}
	return key
}

func tempKey(height int64) []byte {
	key, err := orderedcode.Append(nil, prefixTemp, height)
	if err != nil {
		panic(err)
	}
	return key
}

func finalizedKey() []byte {
	key, err := orderedcode.Append(nil, prefixFinalized)
	if err != nil {
		panic(err)
	}
	return key
}

// SaveBlock persists a block both by height and by id, and indexes
// each of its transactions by id.
func (s *Store) SaveBlock(b *types.Block) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := writeBlockBatch(batch, b); err != nil {
		return err
	}
	return batch.WriteSync()
}

// writeBlockBatch stages a block's height record, id index, and
// per-transaction records into batch without writing it, so callers
// can extend the same atomic write with additional records (the state
// diff and finalized-height pointer, spec.md §4.3 step 4).
func writeBlockBatch(batch dbm.Batch, b *types.Block) error {
	encoded := types.EncodeBlock(b)
	if err := batch.Set(blockKey(b.Header.Height), encoded); err != nil {
		return err
	}
	id := b.ID()
	heightBytes, err := orderedcode.Append(nil, b.Header.Height)
	if err != nil {
		return err
	}
	if err := batch.Set(blockIDKey(id), heightBytes); err != nil {
		return err
	}
	for i := range b.Payload {
		tx := &b.Payload[i]
		if err := batch.Set(txKey(tx.ID()), types.EncodeTransaction(tx)); err != nil {
			return err
		}
	}
	return nil
}

// deleteBlockBatch stages the removal of everything writeBlockBatch
// wrote for b.
func deleteBlockBatch(batch dbm.Batch, b *types.Block) error {
	if err := batch.Delete(blockKey(b.Header.Height)); err != nil {
		return err
	}
	if err := batch.Delete(blockIDKey(b.ID())); err != nil {
		return err
	}
	for i := range b.Payload {
		if err := batch.Delete(txKey(b.Payload[i].ID())); err != nil {
			return err
		}
	}
	return nil
}

// SaveBlockWithState atomically persists a block alongside the state
// diff it produced and the resulting finalized-height pointer, so a
// crash never leaves a block indexed without its diff or vice versa
// (spec.md §4.3 step 4's atomicity requirement).
func (s *Store) SaveBlockWithState(b *types.Block, diff []byte, finalizedHeight int64) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := writeBlockBatch(batch, b); err != nil {
		return err
	}
	if err := batch.Set(diffKey(b.Header.Height), diff); err != nil {
		return err
	}
	fh, err := orderedcode.Append(nil, finalizedHeight)
	if err != nil {
		return err
	}
	if err := batch.Set(finalizedKey(), fh); err != nil {
		return err
	}
	return batch.WriteSync()
}

// DeleteBlock atomically removes b's height/id/tx records and its
// stored diff, for spec.md §4.3's deleteLastBlock.
func (s *Store) DeleteBlock(b *types.Block) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := deleteBlockBatch(batch, b); err != nil {
		return err
	}
	if err := batch.Delete(diffKey(b.Header.Height)); err != nil {
		return err
	}
	return batch.WriteSync()
}

// RevertBlock atomically undoes b: restore is given the batch to stage
// the caller's state-value rollback into (interpreting whatever diff
// format it holds), and this method adds b's own block/id/tx/diff
// removal to the same batch before writing it, so a crash never
// leaves reverted state without also removing the block it belonged
// to.
func (s *Store) RevertBlock(b *types.Block, restore func(batch dbm.Batch) error) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := restore(batch); err != nil {
		return err
	}
	if err := deleteBlockBatch(batch, b); err != nil {
		return err
	}
	if err := batch.Delete(diffKey(b.Header.Height)); err != nil {
		return err
	}
	return batch.WriteSync()
}

// LoadBlockByHeight returns the block at height, or nil if absent.
func (s *Store) LoadBlockByHeight(height int64) (*types.Block, error) {
	bz, err := s.db.Get(blockKey(height))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, nil
	}
	return types.DecodeBlock(bz)
}

// LoadBlockByID looks up a block by its BlockID via the id index.
func (s *Store) LoadBlockByID(id types.BlockID) (*types.Block, error) {
	bz, err := s.db.Get(blockIDKey(id))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, nil
	}
	var height int64
	if _, err := orderedcode.Parse(string(bz), &height); err != nil {
		return nil, fmt.Errorf("store: decoding block id index entry: %w", err)
	}
	return s.LoadBlockByHeight(height)
}

// LoadTransaction returns the transaction with the given id, or nil.
func (s *Store) LoadTransaction(id types.BlockID) (*types.Transaction, error) {
	bz, err := s.db.Get(txKey(id))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, nil
	}
	return types.DecodeTransaction(bz)
}

// BlocksFrom returns up to max sequential blocks starting immediately
// after fromID, for the network endpoint's getBlocksFromId (spec.md
// §4.8); nil if fromID is unknown.
func (s *Store) BlocksFrom(fromID types.BlockID, max int) ([]*types.Block, error) {
	anchor, err := s.LoadBlockByID(fromID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, nil
	}
	var blocks []*types.Block
	for h := anchor.Header.Height + 1; len(blocks) < max; h++ {
		b, err := s.LoadBlockByHeight(h)
		if err != nil {
			return nil, err
		}
		if b == nil {
			break
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// HeadersFrom returns up to count sequential headers starting at
// fromHeight, for the fast-chain-switch mechanism's ancestor walk.
func (s *Store) HeadersFrom(fromHeight int64, count int) ([]*types.Header, error) {
	var headers []*types.Header
	for h := fromHeight; len(headers) < count; h++ {
		b, err := s.LoadBlockByHeight(h)
		if err != nil {
			return nil, err
		}
		if b == nil {
			break
		}
		headers = append(headers, &b.Header)
	}
	return headers, nil
}

// SetState writes a module's state value at key, in the batch b if
// non-nil, or directly otherwise.
func (s *Store) SetState(batch dbm.Batch, module, key string, value []byte) error {
	if batch != nil {
		return batch.Set(stateKey(module, key), value)
	}
	return s.db.Set(stateKey(module, key), value)
}

// GetState returns a module's state value at key, or nil if absent.
func (s *Store) GetState(module, key string) ([]byte, error) {
	return s.db.Get(stateKey(module, key))
}

// DeleteState removes a module's state value at key.
func (s *Store) DeleteState(batch dbm.Batch, module, key string) error {
	if batch != nil {
		return batch.Delete(stateKey(module, key))
	}
	return s.db.Delete(stateKey(module, key))
}

// NewBatch exposes a raw batch so the state machine executor can apply
// an entire block's state writes, its diff, and the finalized-height
// pointer atomically.
func (s *Store) NewBatch() dbm.Batch { return s.db.NewBatch() }

// SaveDiff persists the undo-log for height, used to revert state on
// last-block deletion or on a fork-choice-driven fast chain switch.
func (s *Store) SaveDiff(batch dbm.Batch, height int64, diff []byte) error {
	if batch != nil {
		return batch.Set(diffKey(height), diff)
	}
	return s.db.Set(diffKey(height), diff)
}

// LoadDiff returns the undo-log for height, or nil if absent.
func (s *Store) LoadDiff(height int64) ([]byte, error) {
	return s.db.Get(diffKey(height))
}

// DeleteDiff removes the stored undo-log for height once it can no
// longer be needed (older than COMMIT_RANGE_STORED, spec.md §6).
func (s *Store) DeleteDiff(batch dbm.Batch, height int64) error {
	if batch != nil {
		return batch.Delete(diffKey(height))
	}
	return s.db.Delete(diffKey(height))
}

// SaveTempBlock stashes a block removed by deleteLastBlock so that
// RestoreTempBlocks can re-apply it after a failed sync run, per
// spec.md §4.3's temp-block handling.
func (s *Store) SaveTempBlock(height int64, b *types.Block) error {
	return s.db.Set(tempKey(height), types.EncodeBlock(b))
}

// LoadTempBlock returns the stashed block at height, or nil.
func (s *Store) LoadTempBlock(height int64) (*types.Block, error) {
	bz, err := s.db.Get(tempKey(height))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, nil
	}
	return types.DecodeBlock(bz)
}

func (s *Store) DeleteTempBlock(height int64) error {
	return s.db.Delete(tempKey(height))
}

// SetFinalizedHeight records the finalized height (spec.md §6
// CONSENSUS:finalizedHeight), which the block processor keeps at the
// greatest MaxHeightPrecommitted it has observed.
func (s *Store) SetFinalizedHeight(batch dbm.Batch, height int64) error {
	bz, err := orderedcode.Append(nil, height)
	if err != nil {
		return err
	}
	if batch != nil {
		return batch.Set(finalizedKey(), bz)
	}
	return s.db.Set(finalizedKey(), bz)
}

// FinalizedHeight returns the last stored finalized height, or 0 if
// none has ever been set.
func (s *Store) FinalizedHeight() (int64, error) {
	bz, err := s.db.Get(finalizedKey())
	if err != nil {
		return 0, err
	}
	if len(bz) == 0 {
		return 0, nil
	}
	var height int64
	if _, err := orderedcode.Parse(string(bz), &height); err != nil {
		return 0, err
	}
	return height, nil
}

// Height returns the greatest height with a stored block, or 0 if the
// store is empty.
func (s *Store) Height() (int64, error) {
	iter, err := s.db.ReverseIterator(blockKey(0), blockKey(1<<62))
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Valid() {
		return 0, iter.Error()
	}
	var prefix, height int64
	if _, err := orderedcode.Parse(string(iter.Key()), &prefix, &height); err != nil {
		return 0, err
	}
	return height, nil
}
