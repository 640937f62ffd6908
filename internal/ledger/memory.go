package ledger

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"auditgate/internal/utils"
)

const shardCount = 32

// MemoryLedger keeps balances in memory behind sharded per-quota locks.
// Used by tests and standalone deployments; production uses PostgresLedger
// with the same semantics.
type MemoryLedger struct {
	shards [shardCount]ledgerShard
	ttl    time.Duration
	logger *utils.Logger
}

type ledgerShard struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account
}

type account struct {
	total   decimal.Decimal
	used    decimal.Decimal
	pending map[uuid.UUID]*Reservation
}

// NewMemoryLedger creates a ledger whose reservations expire after ttl.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	l := &MemoryLedger{
		ttl:    ttl,
		logger: utils.NewLogger("ledger"),
	}
	for i := range l.shards {
		l.shards[i].accounts = make(map[uuid.UUID]*account)
	}
	return l
}

// SetBalance registers or updates a quota's balance. Called when quotas are
// created or topped up, and on standalone startup.
func (l *MemoryLedger) SetBalance(quotaID uuid.UUID, total, used decimal.Decimal) {
	shard := l.shard(quotaID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	acct, ok := shard.accounts[quotaID]
	if !ok {
		acct = &account{pending: make(map[uuid.UUID]*Reservation)}
		shard.accounts[quotaID] = acct
	}
	acct.total = total
	acct.used = used
}

// Used returns the current used balance for a quota.
func (l *MemoryLedger) Used(quotaID uuid.UUID) (decimal.Decimal, bool) {
	shard := l.shard(quotaID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	acct, ok := shard.accounts[quotaID]
	if !ok {
		return decimal.Zero, false
	}
	return acct.used, true
}

func (l *MemoryLedger) Reserve(ctx context.Context, quotaID uuid.UUID, floor decimal.Decimal) (*Reservation, error) {
	shard := l.shard(quotaID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	acct, ok := shard.accounts[quotaID]
	if !ok {
		return nil, ErrQuotaNotFound
	}

	held := decimal.Zero
	for _, res := range acct.pending {
		held = held.Add(res.Floor)
	}

	if acct.used.Add(held).Add(floor).GreaterThan(acct.total) {
		return nil, ErrQuotaExceeded
	}

	now := time.Now()
	res := &Reservation{
		ID:        uuid.New(),
		QuotaID:   quotaID,
		Floor:     floor,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	acct.pending[res.ID] = res
	return res, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, res *Reservation, realCost decimal.Decimal) (decimal.Decimal, error) {
	shard := l.shard(res.QuotaID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	acct, ok := shard.accounts[res.QuotaID]
	if !ok {
		return decimal.Zero, ErrQuotaNotFound
	}
	if _, ok := acct.pending[res.ID]; !ok {
		return decimal.Zero, ErrReservationSettled
	}
	delete(acct.pending, res.ID)

	if realCost.IsNegative() {
		realCost = decimal.Zero
	}
	acct.used = acct.used.Add(realCost)
	return acct.used, nil
}

func (l *MemoryLedger) Release(ctx context.Context, res *Reservation) error {
	shard := l.shard(res.QuotaID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	acct, ok := shard.accounts[res.QuotaID]
	if !ok {
		return ErrQuotaNotFound
	}
	if _, ok := acct.pending[res.ID]; !ok {
		return ErrReservationSettled
	}
	delete(acct.pending, res.ID)
	return nil
}

// Sweep settles expired reservations at zero cost and returns how many were
// swept. Abandoned holds must never leak balance.
func (l *MemoryLedger) Sweep(now time.Time) int {
	swept := 0
	for i := range l.shards {
		shard := &l.shards[i]
		shard.mu.Lock()
		for _, acct := range shard.accounts {
			for id, res := range acct.pending {
				if now.After(res.ExpiresAt) {
					delete(acct.pending, id)
					swept++
				}
			}
		}
		shard.mu.Unlock()
	}
	if swept > 0 {
		l.logger.Warn("Swept abandoned reservations", "count", swept)
	}
	return swept
}

// StartSweeper runs Sweep on a ticker until the context is cancelled.
func (l *MemoryLedger) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep(time.Now())
			}
		}
	}()
}

func (l *MemoryLedger) shard(quotaID uuid.UUID) *ledgerShard {
	h := fnv.New32a()
	h.Write(quotaID[:])
	return &l.shards[h.Sum32()%shardCount]
}
