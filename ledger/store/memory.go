// Package store provides an in-memory ledger.Store implementation
// (for testing/dev). It mirrors the production store's optimistic
// concurrency semantics: every document carries a version, transactions
// record the versions they read, and commit fails with ledger.ErrConflict
// if any of them changed.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stridecoin/stride/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	attempts int

	accounts map[string]accountRow
	steps    map[stepKey]stepRow
	rewards  map[string]rewardRow
	orders   map[string]ledger.Order
	entries  map[string][]ledger.LedgerEntry
}

type stepKey struct {
	UID  string
	Date string
}

type accountRow struct {
	val ledger.Account
	ver int64
}

type stepRow struct {
	val ledger.DailyStepRecord
	ver int64
}

type rewardRow struct {
	val ledger.Reward
	ver int64
}

func NewMemory() *Memory {
	return &Memory{
		attempts: ledger.DefaultTxAttempts,
		accounts: make(map[string]accountRow),
		steps:    make(map[stepKey]stepRow),
		rewards:  make(map[string]rewardRow),
		orders:   make(map[string]ledger.Order),
		entries:  make(map[string][]ledger.LedgerEntry),
	}
}

// versionOf returns the committed version of a document key, 0 if absent.
// Caller holds at least a read lock.
func (m *Memory) versionOf(k docKey) int64 {
	switch k.kind {
	case docAccount:
		return m.accounts[k.id].ver
	case docStep:
		return m.steps[stepKey{UID: k.id, Date: k.sub}].ver
	case docReward:
		return m.rewards[k.id].ver
	}
	return 0
}

type docKind int

const (
	docAccount docKind = iota
	docStep
	docReward
)

type docKey struct {
	kind docKind
	id   string
	sub  string // date for step records
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// RunTransaction re-runs fn from scratch when commit detects a conflict,
// up to the bounded attempt budget.
func (m *Memory) RunTransaction(ctx context.Context, fn func(tx ledger.Tx) error) error {
	for attempt := 0; attempt < m.attempts; attempt++ {
		tx := &memTx{
			m:          m,
			reads:      make(map[docKey]int64),
			putAccount: make(map[string]ledger.Account),
			putStep:    make(map[stepKey]ledger.DailyStepRecord),
			putReward:  make(map[string]ledger.Reward),
		}
		if err := fn(tx); err != nil {
			return err
		}
		err := tx.commit()
		if err == nil {
			return nil
		}
		if !ledger.IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ledger.ErrRetriesExhausted, m.attempts)
}

// memTx buffers writes and records read versions for commit validation.
type memTx struct {
	m     *Memory
	reads map[docKey]int64

	putAccount map[string]ledger.Account
	putStep    map[stepKey]ledger.DailyStepRecord
	putReward  map[string]ledger.Reward
	orders     []ledger.Order
	appended   []ledger.LedgerEntry
}

func (t *memTx) recordRead(k docKey) {
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = t.m.versionOf(k)
	}
}

func (t *memTx) Account(_ context.Context, uid string) (*ledger.Account, error) {
	if a, ok := t.putAccount[uid]; ok {
		cp := a
		return &cp, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	t.recordRead(docKey{kind: docAccount, id: uid})
	row, ok := t.m.accounts[uid]
	if !ok {
		return nil, nil
	}
	cp := row.val
	return &cp, nil
}

func (t *memTx) PutAccount(_ context.Context, a ledger.Account) error {
	t.putAccount[a.UID] = a
	return nil
}

func (t *memTx) DailyStepRecord(_ context.Context, uid, date string) (*ledger.DailyStepRecord, error) {
	k := stepKey{UID: uid, Date: date}
	if r, ok := t.putStep[k]; ok {
		cp := r
		return &cp, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	t.recordRead(docKey{kind: docStep, id: uid, sub: date})
	row, ok := t.m.steps[k]
	if !ok {
		return nil, nil
	}
	cp := row.val
	return &cp, nil
}

func (t *memTx) PutDailyStepRecord(_ context.Context, rec ledger.DailyStepRecord) error {
	t.putStep[stepKey{UID: rec.UID, Date: rec.Date}] = rec
	return nil
}

func (t *memTx) Reward(_ context.Context, id string) (*ledger.Reward, error) {
	if rw, ok := t.putReward[id]; ok {
		cp := rw
		return &cp, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	t.recordRead(docKey{kind: docReward, id: id})
	row, ok := t.m.rewards[id]
	if !ok {
		return nil, nil
	}
	cp := row.val
	return &cp, nil
}

func (t *memTx) PutReward(_ context.Context, rw ledger.Reward) error {
	t.putReward[rw.ID] = rw
	return nil
}

func (t *memTx) PutOrder(_ context.Context, o ledger.Order) error {
	t.orders = append(t.orders, o)
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, e ledger.LedgerEntry) error {
	t.appended = append(t.appended, e)
	return nil
}

// commit validates the read set, then applies the write buffer atomically.
func (t *memTx) commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	for k, seen := range t.reads {
		if t.m.versionOf(k) != seen {
			return ledger.ErrConflict
		}
	}

	for uid, a := range t.putAccount {
		t.m.accounts[uid] = accountRow{val: a, ver: t.m.accounts[uid].ver + 1}
	}
	for k, rec := range t.putStep {
		t.m.steps[k] = stepRow{val: rec, ver: t.m.steps[k].ver + 1}
	}
	for id, rw := range t.putReward {
		t.m.rewards[id] = rewardRow{val: rw, ver: t.m.rewards[id].ver + 1}
	}
	for _, o := range t.orders {
		t.m.orders[o.ID] = o
	}
	for _, e := range t.appended {
		t.m.entries[e.UID] = append(t.m.entries[e.UID], e)
	}
	return nil
}

// =============================================================================
// BOUNDARY READS / PROVISIONING
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, uid string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.accounts[uid]
	if !ok {
		return nil, nil
	}
	cp := row.val
	return &cp, nil
}

// UpsertAccount provisions a zeroed account. Merge semantics: an existing
// account is left untouched so retried identity events never reset a balance.
func (m *Memory) UpsertAccount(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[uid]; ok {
		return nil
	}
	m.accounts[uid] = accountRow{
		val: ledger.Account{UID: uid, CreatedAt: time.Now().UTC()},
		ver: 1,
	}
	return nil
}

func (m *Memory) Entries(_ context.Context, uid string, limit int) ([]ledger.LedgerEntry, error) {
	if limit <= 0 {
		limit = ledger.DefaultWalletLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[uid]
	out := make([]ledger.LedgerEntry, len(src))
	// Reverse insertion order so ties on timestamp come out newest-first.
	for i, e := range src {
		out[len(src)-1-i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ActiveRewards(_ context.Context) ([]ledger.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Reward
	for _, row := range m.rewards {
		if row.val.Active {
			out = append(out, row.val)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Cost.Equal(out[j].Cost) {
			return out[i].Cost.LessThan(out[j].Cost)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) OrdersByUser(_ context.Context, uid string) ([]ledger.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Order
	for _, o := range m.orders {
		if o.UserID == uid {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SaveReward(_ context.Context, rw ledger.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewards[rw.ID] = rewardRow{val: rw, ver: m.rewards[rw.ID].ver + 1}
	return nil
}
