package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/types"
)

type memStore struct {
	values map[string][]byte
	diff   []DiffEntry
}

func newMemStore() *memStore { return &memStore{values: map[string][]byte{}} }

func (m *memStore) k(module, key string) string { return module + "/" + key }

func (m *memStore) Get(module, key string) ([]byte, error) {
	return m.values[m.k(module, key)], nil
}

func (m *memStore) Set(module, key string, value []byte) error {
	old := m.values[m.k(module, key)]
	m.values[m.k(module, key)] = value
	m.diff = append(m.diff, DiffEntry{Module: module, Key: key, OldValue: old, NewValue: value})
	return nil
}

func (m *memStore) Diff() []DiffEntry { return m.diff }
func (m *memStore) Discard()          {}

type tokenModule struct{ failSig, failVerify bool }

func (t *tokenModule) Name() string { return "token" }

func (t *tokenModule) VerifySignature(tx *types.Transaction) error {
	if t.failSig {
		return errors.New("bad signature")
	}
	return nil
}

func (t *tokenModule) VerifyTransaction(s StateStore, tx *types.Transaction) error {
	if t.failVerify {
		return errors.New("bad transaction")
	}
	return nil
}

func (t *tokenModule) ApplyAsset(s StateStore, tx *types.Transaction) ([]Event, error) {
	return []Event{{Module: "token", Name: "transfer"}}, s.Set("token", tx.SenderAddress.String(), []byte{1})
}

func TestExecuteSuccess(t *testing.T) {
	e := New()
	e.Register(&tokenModule{})
	b := &types.Block{Payload: []types.Transaction{
		{Module: "token", SenderAddress: types.Address{1}, Nonce: 1},
		{Module: "token", SenderAddress: types.Address{2}, Nonce: 1},
	}}
	s := newMemStore()
	result, err := e.Execute(context.Background(), b, s, nil, nil)
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	require.Len(t, result.Diff, 2)
}

func TestExecuteRejectsNonIncreasingNonce(t *testing.T) {
	e := New()
	e.Register(&tokenModule{})
	b := &types.Block{Payload: []types.Transaction{
		{Module: "token", SenderAddress: types.Address{1}, Nonce: 5},
		{Module: "token", SenderAddress: types.Address{1}, Nonce: 5},
	}}
	_, err := e.Execute(context.Background(), b, newMemStore(), nil, nil)
	require.Error(t, err)
}

func TestExecuteFailsOnBadSignature(t *testing.T) {
	e := New()
	e.Register(&tokenModule{failSig: true})
	b := &types.Block{Payload: []types.Transaction{{Module: "token", SenderAddress: types.Address{1}, Nonce: 1}}}
	_, err := e.Execute(context.Background(), b, newMemStore(), nil, nil)
	require.Error(t, err)
}

func TestTransactionRootDeterministic(t *testing.T) {
	payload := []types.Transaction{
		{Module: "token", SenderAddress: types.Address{1}, Nonce: 1},
		{Module: "token", SenderAddress: types.Address{2}, Nonce: 1},
	}
	r1 := TransactionRoot(payload)
	r2 := TransactionRoot(payload)
	require.Equal(t, r1, r2)
	require.NotEmpty(t, r1)
}
