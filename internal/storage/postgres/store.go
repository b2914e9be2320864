package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creditScope/internal/ledger"
	"creditScope/internal/model"
)

// Store provides Postgres persistence for ledger state. Upserts are guarded
// with GREATEST/LEAST so totals and heights cannot regress even if a stale
// write slips through.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetRecord loads the per-protocol record for a user.
func (s *Store) GetRecord(ctx context.Context, user string, protocol model.Protocol) (model.ActivityRecord, bool, error) {
	record := model.ActivityRecord{User: user, Protocol: protocol}
	row := s.pool.QueryRow(ctx, `
		SELECT borrowed_total, supplied_total, repaid_total,
		       borrow_count, supply_count, repay_count,
		       latest_processed_height, first_activity_height, liquidation_count
		FROM activity_records
		WHERE user_addr = $1 AND protocol = $2
	`, user, protocol.String())
	err := row.Scan(
		&record.BorrowedTotal, &record.SuppliedTotal, &record.RepaidTotal,
		&record.BorrowCount, &record.SupplyCount, &record.RepayCount,
		&record.LatestProcessedHeight, &record.FirstActivityHeight, &record.LiquidationCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ActivityRecord{}, false, nil
		}
		return model.ActivityRecord{}, false, err
	}
	return record, true, nil
}

const upsertRecordSQL = `
		INSERT INTO activity_records (
			user_addr, protocol,
			borrowed_total, supplied_total, repaid_total,
			borrow_count, supply_count, repay_count,
			latest_processed_height, first_activity_height, liquidation_count,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
		ON CONFLICT (user_addr, protocol)
		DO UPDATE SET
			borrowed_total = GREATEST(activity_records.borrowed_total, EXCLUDED.borrowed_total),
			supplied_total = GREATEST(activity_records.supplied_total, EXCLUDED.supplied_total),
			repaid_total = GREATEST(activity_records.repaid_total, EXCLUDED.repaid_total),
			borrow_count = GREATEST(activity_records.borrow_count, EXCLUDED.borrow_count),
			supply_count = GREATEST(activity_records.supply_count, EXCLUDED.supply_count),
			repay_count = GREATEST(activity_records.repay_count, EXCLUDED.repay_count),
			latest_processed_height = GREATEST(activity_records.latest_processed_height, EXCLUDED.latest_processed_height),
			first_activity_height = CASE
				WHEN activity_records.first_activity_height = 0 THEN EXCLUDED.first_activity_height
				ELSE activity_records.first_activity_height
			END,
			liquidation_count = GREATEST(activity_records.liquidation_count, EXCLUDED.liquidation_count),
			updated_at = now()
	`

// GetAggregate loads the cross-protocol record for a user.
func (s *Store) GetAggregate(ctx context.Context, user string) (model.AggregateRecord, bool, error) {
	record := model.AggregateRecord{User: user}
	row := s.pool.QueryRow(ctx, `
		SELECT borrowed_total, supplied_total, repaid_total,
		       borrow_count, supply_count, repay_count,
		       latest_processed_height, first_activity_height, liquidation_count
		FROM aggregate_records
		WHERE user_addr = $1
	`, user)
	err := row.Scan(
		&record.BorrowedTotal, &record.SuppliedTotal, &record.RepaidTotal,
		&record.BorrowCount, &record.SupplyCount, &record.RepayCount,
		&record.LatestProcessedHeight, &record.FirstActivityHeight, &record.LiquidationCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AggregateRecord{}, false, nil
		}
		return model.AggregateRecord{}, false, err
	}
	return record, true, nil
}

const upsertAggregateSQL = `
		INSERT INTO aggregate_records (
			user_addr,
			borrowed_total, supplied_total, repaid_total,
			borrow_count, supply_count, repay_count,
			latest_processed_height, first_activity_height, liquidation_count,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		ON CONFLICT (user_addr)
		DO UPDATE SET
			borrowed_total = GREATEST(aggregate_records.borrowed_total, EXCLUDED.borrowed_total),
			supplied_total = GREATEST(aggregate_records.supplied_total, EXCLUDED.supplied_total),
			repaid_total = GREATEST(aggregate_records.repaid_total, EXCLUDED.repaid_total),
			borrow_count = GREATEST(aggregate_records.borrow_count, EXCLUDED.borrow_count),
			supply_count = GREATEST(aggregate_records.supply_count, EXCLUDED.supply_count),
			repay_count = GREATEST(aggregate_records.repay_count, EXCLUDED.repay_count),
			latest_processed_height = GREATEST(aggregate_records.latest_processed_height, EXCLUDED.latest_processed_height),
			first_activity_height = CASE
				WHEN aggregate_records.first_activity_height = 0 THEN EXCLUDED.first_activity_height
				ELSE LEAST(aggregate_records.first_activity_height, EXCLUDED.first_activity_height)
			END,
			liquidation_count = GREATEST(aggregate_records.liquidation_count, EXCLUDED.liquidation_count),
			updated_at = now()
	`

// SeenObservation reports whether an observation was already folded in.
func (s *Store) SeenObservation(ctx context.Context, key ledger.DedupKey) (bool, error) {
	var found bool
	row := s.pool.QueryRow(ctx, `
		SELECT true FROM observation_dedup
		WHERE user_addr = $1 AND protocol = $2 AND role_token = $3 AND block_height = $4
	`, key.User, key.Protocol.String(), key.RoleToken.Hex(), int64(key.BlockHeight))
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return found, nil
}

// LastBalance loads the last observed balance for a position.
func (s *Store) LastBalance(ctx context.Context, key ledger.BalanceKey) (*big.Int, bool, error) {
	var raw string
	row := s.pool.QueryRow(ctx, `
		SELECT balance::text FROM balance_cache
		WHERE user_addr = $1 AND protocol = $2 AND role_token = $3 AND underlying = $4
	`, key.User, key.Protocol.String(), key.RoleToken.Hex(), key.Underlying.Hex())
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, false, fmt.Errorf("invalid stored balance: %s", raw)
	}
	return balance, true, nil
}

// Apply writes one ingest change set as a single pipelined batch. The batch
// runs in one implicit transaction, so the records, dedup marks and balance
// baselines land together or not at all. A record that became durable without
// its dedup marks would let a retried batch double count.
func (s *Store) Apply(ctx context.Context, changes ledger.ChangeSet) error {
	batch := &pgx.Batch{}

	record := changes.Record
	batch.Queue(upsertRecordSQL,
		record.User,
		record.Protocol.String(),
		int64(record.BorrowedTotal),
		int64(record.SuppliedTotal),
		int64(record.RepaidTotal),
		int64(record.BorrowCount),
		int64(record.SupplyCount),
		int64(record.RepayCount),
		int64(record.LatestProcessedHeight),
		int64(record.FirstActivityHeight),
		int64(record.LiquidationCount),
	)

	aggregate := changes.Aggregate
	batch.Queue(upsertAggregateSQL,
		aggregate.User,
		int64(aggregate.BorrowedTotal),
		int64(aggregate.SuppliedTotal),
		int64(aggregate.RepaidTotal),
		int64(aggregate.BorrowCount),
		int64(aggregate.SupplyCount),
		int64(aggregate.RepayCount),
		int64(aggregate.LatestProcessedHeight),
		int64(aggregate.FirstActivityHeight),
		int64(aggregate.LiquidationCount),
	)

	for _, key := range changes.Order {
		batch.Queue(`
			INSERT INTO balance_cache (user_addr, protocol, role_token, underlying, balance, updated_at)
			VALUES ($1, $2, $3, $4, $5::numeric, now())
			ON CONFLICT (user_addr, protocol, role_token, underlying)
			DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()
		`, key.User, key.Protocol.String(), key.RoleToken.Hex(), key.Underlying.Hex(), changes.Balances[key].String())
	}

	for _, key := range changes.Marks {
		batch.Queue(`
			INSERT INTO observation_dedup (user_addr, protocol, role_token, block_height, created_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT DO NOTHING
		`, key.User, key.Protocol.String(), key.RoleToken.Hex(), int64(key.BlockHeight))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
