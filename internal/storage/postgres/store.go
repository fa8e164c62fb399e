package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEventRow is one audit event ready for archival.
type AuditEventRow struct {
	Name      string
	Payload   []byte
	WrittenAt string
}

// PoolSnapshotRow is one pool snapshot keyed by asset and capture time.
type PoolSnapshotRow struct {
	Asset          string
	Active         bool
	TotalSupplied  string
	TotalBorrowed  string
	SupplyIndex    string
	BorrowIndex    string
	Cash           string
	Reserves       string
	UtilizationWad string
	BorrowRateWad  string
	CapturedAt     int64
}

// PositionRow mirrors a position account for reporting queries.
type PositionRow struct {
	ID          uint64
	Owner       string
	BaseAsset   string
	TargetAsset string
	Collateral  string
	LeverageBps uint64
	RangeBps    uint64
	LowerBound  string
	UpperBound  string
	Debt        string
	AccruedFees string
	Status      string
	OpenedAt    int64
	UpdatedAt   int64
}

// Store provides Postgres persistence for snapshots and audit events.
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

// InsertAuditEvents appends audit events. The archive is append-only;
// replayed events are deduplicated on (name, written_at, payload).
func (s *Store) InsertAuditEvents(ctx context.Context, rows []AuditEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO audit_events (name, payload, written_at, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (name, written_at, payload) DO NOTHING
		`,
			row.Name,
			row.Payload,
			row.WrittenAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPoolSnapshots inserts or updates pool snapshots.
func (s *Store) UpsertPoolSnapshots(ctx context.Context, snapshots []PoolSnapshotRow) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(`
			INSERT INTO pool_snapshots (
				asset, active, total_supplied, total_borrowed, supply_index, borrow_index,
				cash, reserves, utilization_wad, borrow_rate_wad, captured_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
			ON CONFLICT (asset, captured_at)
			DO UPDATE SET
				active = EXCLUDED.active,
				total_supplied = EXCLUDED.total_supplied,
				total_borrowed = EXCLUDED.total_borrowed,
				supply_index = EXCLUDED.supply_index,
				borrow_index = EXCLUDED.borrow_index,
				cash = EXCLUDED.cash,
				reserves = EXCLUDED.reserves,
				utilization_wad = EXCLUDED.utilization_wad,
				borrow_rate_wad = EXCLUDED.borrow_rate_wad,
				updated_at = now()
		`,
			snap.Asset,
			snap.Active,
			snap.TotalSupplied,
			snap.TotalBorrowed,
			snap.SupplyIndex,
			snap.BorrowIndex,
			snap.Cash,
			snap.Reserves,
			snap.UtilizationWad,
			snap.BorrowRateWad,
			snap.CapturedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPositions inserts or updates position rows.
func (s *Store) UpsertPositions(ctx context.Context, positions []PositionRow) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pos := range positions {
		batch.Queue(`
			INSERT INTO positions (
				id, owner, base_asset, target_asset, collateral, leverage_bps, range_bps,
				lower_bound, upper_bound, debt, accrued_fees, status, opened_at, updated_at_ts,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
			ON CONFLICT (id)
			DO UPDATE SET
				collateral = EXCLUDED.collateral,
				lower_bound = EXCLUDED.lower_bound,
				upper_bound = EXCLUDED.upper_bound,
				debt = EXCLUDED.debt,
				accrued_fees = EXCLUDED.accrued_fees,
				status = EXCLUDED.status,
				updated_at_ts = EXCLUDED.updated_at_ts,
				updated_at = now()
		`,
			int64(pos.ID),
			pos.Owner,
			pos.BaseAsset,
			pos.TargetAsset,
			pos.Collateral,
			int64(pos.LeverageBps),
			int64(pos.RangeBps),
			pos.LowerBound,
			pos.UpperBound,
			pos.Debt,
			pos.AccruedFees,
			pos.Status,
			pos.OpenedAt,
			pos.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range positions {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM archive_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ts, true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO archive_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, ts)
	return err
}
