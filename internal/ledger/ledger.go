package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creditScope/internal/model"
	"creditScope/internal/price"
	"creditScope/internal/registry"
)

// Config holds ledger policy settings.
type Config struct {
	// Stables lists the reference stable assets per chain. Deltas in these
	// assets are treated as already USD-denominated and skip the price
	// normalizer.
	Stables map[uint64][]common.Address
}

// Ledger folds attested balance observations into per-protocol and aggregate
// activity records. Calls for the same user are serialized on a per-user
// lock, so concurrent ingests are linearizable.
type Ledger struct {
	cfg      Config
	store    Store
	registry registry.Registry
	logger   *zap.Logger

	normMu     sync.RWMutex
	normalizer price.Normalizer

	userMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// New builds a Ledger with its dependencies.
func New(cfg Config, store Store, reg registry.Registry, normalizer price.Normalizer, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		cfg:        cfg,
		store:      store,
		registry:   reg,
		logger:     logger,
		normalizer: normalizer,
		userLocks:  make(map[string]*sync.Mutex),
	}
}

// SetNormalizer swaps the price normalizer. A nil normalizer is a
// configuration error.
func (l *Ledger) SetNormalizer(n price.Normalizer) error {
	if n == nil {
		return fmt.Errorf("%w: nil price normalizer", model.ErrConfiguration)
	}
	l.normMu.Lock()
	l.normalizer = n
	l.normMu.Unlock()
	return nil
}

func (l *Ledger) lockUser(user string) *sync.Mutex {
	l.userMu.Lock()
	lock, ok := l.userLocks[user]
	if !ok {
		lock = &sync.Mutex{}
		l.userLocks[user] = lock
	}
	l.userMu.Unlock()
	return lock
}

type parsedObservation struct {
	underlying common.Address
	roleToken  common.Address
	chainID    uint64
	height     uint64
	balance    *big.Int
	role       model.Role
}

func parseObservation(raw model.Observation) (parsedObservation, error) {
	if !common.IsHexAddress(raw.UnderlyingAsset) {
		return parsedObservation{}, fmt.Errorf("%w: underlying asset %q", model.ErrInvalidObservation, raw.UnderlyingAsset)
	}
	if !common.IsHexAddress(raw.RoleToken) {
		return parsedObservation{}, fmt.Errorf("%w: role token %q", model.ErrInvalidObservation, raw.RoleToken)
	}
	balance, ok := new(big.Int).SetString(raw.Balance, 10)
	if !ok || balance.Sign() < 0 {
		return parsedObservation{}, fmt.Errorf("%w: balance %q", model.ErrInvalidObservation, raw.Balance)
	}
	switch raw.Role {
	case model.RoleReserve, model.RoleVariableDebt, model.RoleStableDebt:
	default:
		return parsedObservation{}, fmt.Errorf("%w: role %q", model.ErrUnsupportedObservationRole, raw.Role.String())
	}
	return parsedObservation{
		underlying: common.HexToAddress(raw.UnderlyingAsset),
		roleToken:  common.HexToAddress(raw.RoleToken),
		chainID:    raw.ChainID,
		height:     raw.BlockHeight,
		balance:    balance,
		role:       raw.Role,
	}, nil
}

// Ingest folds a batch of observations into the user's records, in array
// order. Mutations are buffered and committed together: a validation failure
// returns an error with nothing applied. The one exception is a stable-debt
// observation, which stops processing of the remaining batch but keeps the
// mutations from earlier observations; in that case Ingest returns both the
// emitted events and ErrUnsupportedObservationRole.
func (l *Ledger) Ingest(ctx context.Context, user string, protocol model.Protocol, observations []model.Observation) ([]model.LedgerEvent, error) {
	if !common.IsHexAddress(user) {
		return nil, fmt.Errorf("%w: user address %q", model.ErrInvalidObservation, user)
	}
	if protocol != model.ProtocolAave && protocol != model.ProtocolCompound {
		return nil, fmt.Errorf("%w: protocol %q", model.ErrInvalidObservation, protocol.String())
	}
	userKey := common.HexToAddress(user).Hex()

	lock := l.lockUser(userKey)
	lock.Lock()
	defer lock.Unlock()

	record, ok, err := l.store.GetRecord(ctx, userKey, protocol)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if !ok {
		record = model.ActivityRecord{User: userKey, Protocol: protocol}
	}
	aggregate, ok, err := l.store.GetAggregate(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("load aggregate: %w", err)
	}
	if !ok {
		aggregate = model.AggregateRecord{User: userKey}
	}

	var (
		events   []model.LedgerEvent
		marks    []DedupKey
		markSet  = make(map[DedupKey]struct{})
		balances = make(map[BalanceKey]*big.Int)
		order    []BalanceKey
		skipped  int
		abortErr error
	)

	for _, raw := range observations {
		obs, err := parseObservation(raw)
		if err != nil {
			return nil, err
		}

		if obs.role == model.RoleStableDebt {
			abortErr = fmt.Errorf("%w: stable-rate debt", model.ErrUnsupportedObservationRole)
			break
		}

		bound, ok := l.registry.RoleToken(obs.chainID, protocol, obs.underlying, obs.role)
		if !ok || bound != obs.roleToken {
			return nil, fmt.Errorf("%w: %s is not the %s token for %s on chain %d",
				model.ErrInvalidTokenBinding, obs.roleToken.Hex(), obs.role.String(), obs.underlying.Hex(), obs.chainID)
		}

		if obs.height < record.LatestProcessedHeight {
			skipped++
			continue
		}

		dedup := DedupKey{User: userKey, Protocol: protocol, RoleToken: obs.roleToken, BlockHeight: obs.height}
		if _, pending := markSet[dedup]; pending {
			skipped++
			continue
		}
		seen, err := l.store.SeenObservation(ctx, dedup)
		if err != nil {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		}
		if seen {
			skipped++
			continue
		}

		balanceKey := l.balanceKey(userKey, protocol, obs)
		last, err := l.lastBalance(ctx, balances, balanceKey)
		if err != nil {
			return nil, err
		}

		increase := obs.balance.Cmp(last) >= 0
		delta := new(big.Int).Sub(obs.balance, last)
		delta.Abs(delta)

		switch obs.role {
		case model.RoleVariableDebt:
			usd, err := l.normalizeUSD(ctx, obs.chainID, obs.underlying, delta)
			if err != nil {
				return nil, err
			}
			if increase {
				record.BorrowedTotal += usd
				record.BorrowCount++
				aggregate.BorrowedTotal += usd
				aggregate.BorrowCount++
				events = append(events, model.LedgerEvent{
					User: userKey, Protocol: protocol, Kind: model.EventBorrowed,
					AmountUSD: usd, RunningTotal: record.BorrowedTotal, Count: record.BorrowCount,
					BlockHeight: obs.height,
				})
			} else {
				record.RepaidTotal += usd
				record.RepayCount++
				aggregate.RepaidTotal += usd
				aggregate.RepayCount++
				events = append(events, model.LedgerEvent{
					User: userKey, Protocol: protocol, Kind: model.EventRepaid,
					AmountUSD: usd, RunningTotal: record.RepaidTotal, Count: record.RepayCount,
					BlockHeight: obs.height,
				})
			}
		case model.RoleReserve:
			if increase {
				usd, err := l.normalizeUSD(ctx, obs.chainID, obs.underlying, delta)
				if err != nil {
					return nil, err
				}
				record.SuppliedTotal += usd
				record.SupplyCount++
				aggregate.SuppliedTotal += usd
				aggregate.SupplyCount++
				events = append(events, model.LedgerEvent{
					User: userKey, Protocol: protocol, Kind: model.EventSupplied,
					AmountUSD: usd, RunningTotal: record.SuppliedTotal, Count: record.SupplyCount,
					BlockHeight: obs.height,
				})
			}
			// Withdrawals never reduce the supplied total.
		}

		if _, ok := balances[balanceKey]; !ok {
			order = append(order, balanceKey)
		}
		balances[balanceKey] = obs.balance

		record.ObserveHeight(obs.height)
		aggregate.ObserveHeight(obs.height)

		marks = append(marks, dedup)
		markSet[dedup] = struct{}{}

		if record.FirstActivityHeight == 0 {
			record.ObserveFirstActivity(obs.height)
			aggregate.ObserveFirstActivity(obs.height)
		}
	}

	// Nothing to commit when every observation was stale or a duplicate.
	if len(marks) > 0 {
		changes := ChangeSet{
			Record:    record,
			Aggregate: aggregate,
			Marks:     marks,
			Balances:  balances,
			Order:     order,
		}
		if err := l.store.Apply(ctx, changes); err != nil {
			return nil, fmt.Errorf("commit ingest: %w", err)
		}
	}

	l.logger.Debug("ingest complete",
		zap.String("user", userKey),
		zap.String("protocol", protocol.String()),
		zap.Int("observations", len(observations)),
		zap.Int("events", len(events)),
		zap.Int("skipped", skipped),
		zap.Bool("aborted", abortErr != nil),
	)

	return events, abortErr
}

// balanceKey returns the last-known-balance cache key. Compound collateral
// positions are additionally keyed by the collateral asset; everything else
// is a single scalar per role token.
func (l *Ledger) balanceKey(user string, protocol model.Protocol, obs parsedObservation) BalanceKey {
	key := BalanceKey{User: user, Protocol: protocol, RoleToken: obs.roleToken}
	if protocol == model.ProtocolCompound && obs.role == model.RoleReserve {
		key.Underlying = obs.underlying
	}
	return key
}

func (l *Ledger) lastBalance(ctx context.Context, pending map[BalanceKey]*big.Int, key BalanceKey) (*big.Int, error) {
	if balance, ok := pending[key]; ok {
		return balance, nil
	}
	balance, ok, err := l.store.LastBalance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("balance lookup: %w", err)
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// normalizeUSD converts a raw delta to whole USD. Reference stable assets
// pass through unchanged; everything else is quoted by the normalizer and
// floor-divided by its fixed-point exponent.
func (l *Ledger) normalizeUSD(ctx context.Context, chainID uint64, asset common.Address, delta *big.Int) (uint64, error) {
	if l.isStable(chainID, asset) {
		if !delta.IsUint64() {
			return 0, fmt.Errorf("%w: stable delta overflows", model.ErrInvalidObservation)
		}
		return delta.Uint64(), nil
	}

	l.normMu.RLock()
	normalizer := l.normalizer
	l.normMu.RUnlock()
	if normalizer == nil {
		return 0, fmt.Errorf("%w: price normalizer not configured", model.ErrConfiguration)
	}

	quote, err := normalizer.QuoteUSD(ctx, asset, delta)
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", asset.Hex(), err)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(normalizer.Exponent())), nil)
	usd := new(big.Int).Div(quote, scale)
	if !usd.IsUint64() {
		return 0, fmt.Errorf("%w: normalized delta overflows", model.ErrInvalidObservation)
	}
	return usd.Uint64(), nil
}

func (l *Ledger) isStable(chainID uint64, asset common.Address) bool {
	for _, stable := range l.cfg.Stables[chainID] {
		if stable == asset {
			return true
		}
	}
	return false
}

// Record returns the per-protocol record for a user.
func (l *Ledger) Record(ctx context.Context, user string, protocol model.Protocol) (model.ActivityRecord, bool, error) {
	if !common.IsHexAddress(user) {
		return model.ActivityRecord{}, false, fmt.Errorf("%w: user address %q", model.ErrInvalidObservation, user)
	}
	return l.store.GetRecord(ctx, common.HexToAddress(user).Hex(), protocol)
}

// Aggregate returns the cross-protocol record for a user.
func (l *Ledger) Aggregate(ctx context.Context, user string) (model.AggregateRecord, bool, error) {
	if !common.IsHexAddress(user) {
		return model.AggregateRecord{}, false, fmt.Errorf("%w: user address %q", model.ErrInvalidObservation, user)
	}
	return l.store.GetAggregate(ctx, common.HexToAddress(user).Hex())
}

// NoteLiquidation records an externally detected liquidation on the user's
// protocol record and aggregate.
func (l *Ledger) NoteLiquidation(ctx context.Context, user string, protocol model.Protocol) error {
	if !common.IsHexAddress(user) {
		return fmt.Errorf("%w: user address %q", model.ErrInvalidObservation, user)
	}
	userKey := common.HexToAddress(user).Hex()

	lock := l.lockUser(userKey)
	lock.Lock()
	defer lock.Unlock()

	record, ok, err := l.store.GetRecord(ctx, userKey, protocol)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if !ok {
		record = model.ActivityRecord{User: userKey, Protocol: protocol}
	}
	aggregate, ok, err := l.store.GetAggregate(ctx, userKey)
	if err != nil {
		return fmt.Errorf("load aggregate: %w", err)
	}
	if !ok {
		aggregate = model.AggregateRecord{User: userKey}
	}

	record.LiquidationCount++
	aggregate.LiquidationCount++

	if err := l.store.Apply(ctx, ChangeSet{Record: record, Aggregate: aggregate}); err != nil {
		return fmt.Errorf("store liquidation: %w", err)
	}
	return nil
}
