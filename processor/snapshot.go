package processor

import (
	"encoding/binary"
	"fmt"

	"github.com/veritaschain/consensus-core/statemachine"
	"github.com/veritaschain/consensus-core/store"
)

// snapshot is the block-scoped StateStore the block processor hands
// to the state machine executor: writes accumulate in an in-memory
// overlay over the durable store, so a failed block never touches
// disk (spec.md §4.3's "any step 1-4 error aborts without side
// effects").
type snapshot struct {
	store   *store.Store
	overlay map[string]overlayEntry
	diff    []statemachine.DiffEntry
}

type overlayEntry struct {
	value   []byte
	present bool // false means the overlay has recorded a deletion
}

func overlayKey(module, key string) string { return module + "\x00" + key }

func newSnapshot(s *store.Store) *snapshot {
	return &snapshot{store: s, overlay: make(map[string]overlayEntry)}
}

func (sn *snapshot) Get(module, key string) ([]byte, error) {
	if e, ok := sn.overlay[overlayKey(module, key)]; ok {
		if !e.present {
			return nil, nil
		}
		return e.value, nil
	}
	return sn.store.GetState(module, key)
}

func (sn *snapshot) Set(module, key string, value []byte) error {
	old, err := sn.Get(module, key)
	if err != nil {
		return err
	}
	sn.overlay[overlayKey(module, key)] = overlayEntry{value: value, present: true}
	sn.diff = append(sn.diff, statemachine.DiffEntry{Module: module, Key: key, OldValue: old, NewValue: value})
	return nil
}

func (sn *snapshot) Diff() []statemachine.DiffEntry { return sn.diff }

func (sn *snapshot) Discard() {
	sn.overlay = nil
	sn.diff = nil
}

// encodeDiff serializes a diff for durable storage, so a later
// deleteLastBlock can revert state without re-executing the block
// (spec.md §4.3's undo-log).
func encodeDiff(entries []statemachine.DiffEntry) []byte {
	buf := make([]byte, 0, 64*len(entries))
	buf = appendUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = appendString(buf, e.Module)
		buf = appendString(buf, e.Key)
		buf = appendOptionalBytes(buf, e.OldValue)
	}
	return buf
}

func decodeDiff(raw []byte) ([]statemachine.DiffEntry, error) {
	buf := raw
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	entries := make([]statemachine.DiffEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		var module, key string
		var old []byte
		var hadOld bool
		module, buf, err = readString(buf)
		if err != nil {
			return nil, err
		}
		key, buf, err = readString(buf)
		if err != nil {
			return nil, err
		}
		old, hadOld, buf, err = readOptionalBytes(buf)
		if err != nil {
			return nil, err
		}
		entry := statemachine.DiffEntry{Module: module, Key: key}
		if hadOld {
			entry.OldValue = old
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(buf []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, fmt.Errorf("processor: malformed diff varint")
	}
	return v, buf[n:], nil
}

func appendString(buf []byte, s string) []byte {
	return appendOptionalBytes(buf, []byte(s))
}

func readString(buf []byte) (string, []byte, error) {
	b, _, rest, err := readOptionalBytes(buf)
	return string(b), rest, err
}

// appendOptionalBytes encodes a length-prefixed byte slice, using
// length 0 for both "empty" and "absent" and a leading presence flag
// to tell them apart, since a nil OldValue (key created by this
// block) must revert to "delete", not "set to empty".
func appendOptionalBytes(buf []byte, b []byte) []byte {
	if b == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func readOptionalBytes(buf []byte) ([]byte, bool, []byte, error) {
	if len(buf) < 1 {
		return nil, false, nil, fmt.Errorf("processor: malformed diff presence flag")
	}
	present := buf[0] == 1
	buf = buf[1:]
	if !present {
		return nil, false, buf, nil
	}
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, false, nil, err
	}
	if uint64(len(buf)) < n {
		return nil, false, nil, fmt.Errorf("processor: short buffer reading diff value")
	}
	return append([]byte(nil), buf[:n]...), true, buf[n:], nil
}
