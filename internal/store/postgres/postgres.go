// Package postgres implements store.Store on top of database/sql and
// github.com/lib/pq, in the shape of the teacher pack's
// postgres-consumer/go/main.go: a flat connection pool, an
// initSchema step run once at construction, JSONB columns for the
// escrow-side payloads, and ON CONFLICT upserts for idempotent writes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open connects to connStr, configures the pool, and ensures the
// schema exists.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: opening: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/postgres: pinging: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/postgres: initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS swaps (
			id               VARCHAR(128) PRIMARY KEY,
			digest           VARCHAR(64) NOT NULL,
			algorithm        SMALLINT NOT NULL,
			a_side           JSONB,
			b_side           JSONB,
			a_deadline_ms    BIGINT NOT NULL,
			b_deadline_ms    BIGINT NOT NULL,
			phase            VARCHAR(32) NOT NULL,
			created_ms       BIGINT NOT NULL,
			updated_ms       BIGINT NOT NULL,
			last_error       TEXT,
			retry_count      INTEGER NOT NULL DEFAULT 0,
			version          BIGINT NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_swaps_digest ON swaps(digest);
		CREATE INDEX IF NOT EXISTS idx_swaps_phase ON swaps(phase);
		CREATE INDEX IF NOT EXISTS idx_swaps_a_deadline ON swaps(a_deadline_ms);
		CREATE INDEX IF NOT EXISTS idx_swaps_b_deadline ON swaps(b_deadline_ms);

		CREATE TABLE IF NOT EXISTS escrow_events (
			event_key    VARCHAR(255) PRIMARY KEY,
			ledger       VARCHAR(4) NOT NULL,
			escrow_id    VARCHAR(128) NOT NULL,
			kind         VARCHAR(32) NOT NULL,
			payload      JSONB NOT NULL,
			inserted_ms  BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_escrow_events_escrow ON escrow_events(escrow_id);

		CREATE TABLE IF NOT EXISTS cursors (
			ledger      VARCHAR(4) PRIMARY KEY,
			height      BIGINT NOT NULL,
			event_index INTEGER NOT NULL,
			updated_ms  BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS reveals (
			swap_id       VARCHAR(128) PRIMARY KEY,
			digest        VARCHAR(64) NOT NULL,
			secret        VARCHAR(64) NOT NULL,
			source_ledger VARCHAR(4) NOT NULL,
			source_tx_ref TEXT,
			observed_ms   BIGINT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}

	ginIndexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_swaps_a_side_gin ON swaps USING GIN (a_side)",
		"CREATE INDEX IF NOT EXISTS idx_swaps_b_side_gin ON swaps USING GIN (b_side)",
		"CREATE INDEX IF NOT EXISTS idx_escrow_events_payload_gin ON escrow_events USING GIN (payload)",
	}
	for _, idx := range ginIndexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("creating gin index: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSwap(ctx context.Context, swap *swaptypes.Swap) error {
	aSide, bSide, err := marshalSides(swap)
	if err != nil {
		return err
	}
	swap.Version = 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO swaps (id, digest, algorithm, a_side, b_side, a_deadline_ms, b_deadline_ms, phase, created_ms, updated_ms, last_error, retry_count, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		string(swap.ID), hexDigest(swap.Digest), int(swap.Algorithm), aSide, bSide,
		swap.ADeadlineMs, swap.BDeadlineMs, string(swap.Phase), swap.CreatedMs, swap.UpdatedMs,
		swap.LastError, swap.RetryCount, swap.Version,
	)
	if isUniqueViolation(err) {
		return swaperrors.New(swaperrors.KindAlreadyProcessed, "swap_exists", "swap already exists: "+string(swap.ID))
	}
	if err != nil {
		return fmt.Errorf("store/postgres: inserting swap: %w", err)
	}
	return nil
}

func (s *Store) GetSwap(ctx context.Context, id swaptypes.SwapID) (*swaptypes.Swap, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, digest, algorithm, a_side, b_side, a_deadline_ms, b_deadline_ms, phase, created_ms, updated_ms, last_error, retry_count, version
		FROM swaps WHERE id = $1
	`, string(id))
	return scanSwap(row)
}

func (s *Store) UpdateSwap(ctx context.Context, swap *swaptypes.Swap, expectedVersion int64) error {
	aSide, bSide, err := marshalSides(swap)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE swaps SET a_side=$1, b_side=$2, a_deadline_ms=$3, b_deadline_ms=$4, phase=$5,
			updated_ms=$6, last_error=$7, retry_count=$8, version=version+1
		WHERE id=$9 AND version=$10
	`,
		aSide, bSide, swap.ADeadlineMs, swap.BDeadlineMs, string(swap.Phase),
		swap.UpdatedMs, swap.LastError, swap.RetryCount, string(swap.ID), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("store/postgres: updating swap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store/postgres: rows affected: %w", err)
	}
	if n == 0 {
		return store.VersionConflict(swap.ID)
	}
	swap.Version = expectedVersion + 1
	return nil
}

func (s *Store) AppendEventAndUpdateSwap(ctx context.Context, event swaptypes.EscrowEvent, swap *swaptypes.Swap, expectedVersion int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store/postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("store/postgres: marshaling event: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO escrow_events (event_key, ledger, escrow_id, kind, payload, inserted_ms)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (event_key) DO NOTHING
	`, event.Key(), string(event.Ledger), string(event.EscrowID), string(event.Kind), payload, swaptypes.NowMs())
	if err != nil {
		return false, fmt.Errorf("store/postgres: inserting event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store/postgres: rows affected: %w", err)
	}
	if n == 0 {
		// Already recorded: at-least-once delivery landed a duplicate.
		return false, tx.Commit()
	}

	aSide, bSide, err := marshalSides(swap)
	if err != nil {
		return false, err
	}
	updRes, err := tx.ExecContext(ctx, `
		UPDATE swaps SET a_side=$1, b_side=$2, a_deadline_ms=$3, b_deadline_ms=$4, phase=$5,
			updated_ms=$6, last_error=$7, retry_count=$8, version=version+1
		WHERE id=$9 AND version=$10
	`,
		aSide, bSide, swap.ADeadlineMs, swap.BDeadlineMs, string(swap.Phase),
		swap.UpdatedMs, swap.LastError, swap.RetryCount, string(swap.ID), expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("store/postgres: updating swap: %w", err)
	}
	upd, err := updRes.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store/postgres: rows affected: %w", err)
	}
	if upd == 0 {
		return false, store.VersionConflict(swap.ID)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store/postgres: commit: %w", err)
	}
	swap.Version = expectedVersion + 1
	return true, nil
}

func (s *Store) ListSwaps(ctx context.Context, filter store.SwapFilter) ([]*swaptypes.Swap, error) {
	query := `SELECT id, digest, algorithm, a_side, b_side, a_deadline_ms, b_deadline_ms, phase, created_ms, updated_ms, last_error, retry_count, version FROM swaps WHERE 1=1`
	var args []any
	n := 1
	if filter.Phase != "" {
		query += fmt.Sprintf(" AND phase = $%d", n)
		args = append(args, string(filter.Phase))
		n++
	}
	if filter.DeadlineBefore != 0 {
		query += fmt.Sprintf(" AND (a_deadline_ms < $%d OR b_deadline_ms < $%d)", n, n)
		args = append(args, filter.DeadlineBefore)
		n++
	}
	if filter.Digest != nil {
		query += fmt.Sprintf(" AND digest = $%d", n)
		args = append(args, hexDigest(*filter.Digest))
		n++
	}
	query += " ORDER BY LEAST(a_deadline_ms, b_deadline_ms) ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: listing swaps: %w", err)
	}
	defer rows.Close()

	var out []*swaptypes.Swap
	for rows.Next() {
		swap, err := scanSwapRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, swap)
	}
	return out, rows.Err()
}

func (s *Store) FindSwapByDigest(ctx context.Context, digest swaptypes.Digest) (*swaptypes.Swap, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, digest, algorithm, a_side, b_side, a_deadline_ms, b_deadline_ms, phase, created_ms, updated_ms, last_error, retry_count, version
		FROM swaps WHERE digest = $1 ORDER BY created_ms DESC LIMIT 1
	`, hexDigest(digest))
	return scanSwap(row)
}

func (s *Store) HasEvent(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM escrow_events WHERE event_key = $1)`, key).Scan(&exists)
	return exists, err
}

func (s *Store) SaveCursor(ctx context.Context, cursor swaptypes.EventCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (ledger, height, event_index, updated_ms)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (ledger) DO UPDATE SET height=EXCLUDED.height, event_index=EXCLUDED.event_index, updated_ms=EXCLUDED.updated_ms
	`, string(cursor.Ledger), cursor.Height, cursor.EventIndex, cursor.UpdatedMs)
	return err
}

func (s *Store) LoadCursor(ctx context.Context, ledger swaptypes.Ledger) (swaptypes.EventCursor, error) {
	var c swaptypes.EventCursor
	c.Ledger = ledger
	err := s.db.QueryRowContext(ctx, `SELECT height, event_index, updated_ms FROM cursors WHERE ledger = $1`, string(ledger)).
		Scan(&c.Height, &c.EventIndex, &c.UpdatedMs)
	if err == sql.ErrNoRows {
		return c, nil
	}
	return c, err
}

func (s *Store) InsertReveal(ctx context.Context, reveal swaptypes.Reveal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reveals (swap_id, digest, secret, source_ledger, source_tx_ref, observed_ms)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (swap_id) DO NOTHING
	`,
		string(reveal.SwapID), hexDigest(reveal.Digest), hashlock.EncodeHex(reveal.Secret),
		string(reveal.SourceLedger), reveal.SourceTxRef, reveal.ObservedMs,
	)
	if err != nil {
		return fmt.Errorf("store/postgres: inserting reveal: %w", err)
	}
	return nil
}

func (s *Store) GetReveal(ctx context.Context, swapID swaptypes.SwapID) (*swaptypes.Reveal, error) {
	var (
		digestHex, secretHex, ledger, txRef string
		r                                    swaptypes.Reveal
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, secret, source_ledger, source_tx_ref, observed_ms FROM reveals WHERE swap_id = $1
	`, string(swapID)).Scan(&digestHex, &secretHex, &ledger, &txRef, &r.ObservedMs)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store/postgres: scanning reveal: %w", err)
	}

	digest, err := decodeHexDigest(digestHex)
	if err != nil {
		return nil, err
	}
	secret, err := hashlock.DecodeSecretHex(secretHex)
	if err != nil {
		return nil, err
	}

	r.SwapID = swapID
	r.Digest = digest
	r.Secret = secret
	r.SourceLedger = swaptypes.Ledger(ledger)
	r.SourceTxRef = txRef
	return &r, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for a shared scan body.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSwap(row *sql.Row) (*swaptypes.Swap, error) {
	return scanSwapCommon(row)
}

func scanSwapRows(rows *sql.Rows) (*swaptypes.Swap, error) {
	return scanSwapCommon(rows)
}

func scanSwapCommon(rs rowScanner) (*swaptypes.Swap, error) {
	var (
		id, digestHex, phase, lastError string
		algo                             int
		aSideJSON, bSideJSON             []byte
		swp                              swaptypes.Swap
	)
	err := rs.Scan(&id, &digestHex, &algo, &aSideJSON, &bSideJSON, &swp.ADeadlineMs, &swp.BDeadlineMs,
		&phase, &swp.CreatedMs, &swp.UpdatedMs, &lastError, &swp.RetryCount, &swp.Version)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store/postgres: scanning swap: %w", err)
	}

	swp.ID = swaptypes.SwapID(id)
	swp.Phase = swaptypes.Phase(phase)
	swp.LastError = lastError
	swp.Algorithm = swaptypes.Algorithm(algo)

	digest, err := decodeHexDigest(digestHex)
	if err != nil {
		return nil, err
	}
	swp.Digest = digest

	if len(aSideJSON) > 0 {
		var side swaptypes.Side
		if err := json.Unmarshal(aSideJSON, &side); err != nil {
			return nil, fmt.Errorf("store/postgres: unmarshaling a_side: %w", err)
		}
		swp.ASide = &side
	}
	if len(bSideJSON) > 0 {
		var side swaptypes.Side
		if err := json.Unmarshal(bSideJSON, &side); err != nil {
			return nil, fmt.Errorf("store/postgres: unmarshaling b_side: %w", err)
		}
		swp.BSide = &side
	}
	return &swp, nil
}

func marshalSides(swap *swaptypes.Swap) ([]byte, []byte, error) {
	var aJSON, bJSON []byte
	var err error
	if swap.ASide != nil {
		aJSON, err = json.Marshal(swap.ASide)
		if err != nil {
			return nil, nil, fmt.Errorf("store/postgres: marshaling a_side: %w", err)
		}
	}
	if swap.BSide != nil {
		bJSON, err = json.Marshal(swap.BSide)
		if err != nil {
			return nil, nil, fmt.Errorf("store/postgres: marshaling b_side: %w", err)
		}
	}
	return aJSON, bJSON, nil
}

func hexDigest(d swaptypes.Digest) string {
	return hashlock.EncodeHex(d)
}

func decodeHexDigest(s string) (swaptypes.Digest, error) {
	return hashlock.DecodeDigestHex(s)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
