package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coinsender/internal/asset"
)

// PostgresStore persists the ledger in PostgreSQL. Every Update runs inside
// one database transaction; transfer ids come from a dedicated sequence so a
// restart can neither lose entries nor double-allocate ids.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

const ledgerSchemaSQL = `
CREATE TABLE IF NOT EXISTS pending_claims (
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL,
    asset TEXT NOT NULL,
    amount NUMERIC(78,0) NOT NULL,
    claimed BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (sender, recipient, asset)
);

CREATE SEQUENCE IF NOT EXISTS vesting_transfer_ids MINVALUE 0 START WITH 0;

CREATE TABLE IF NOT EXISTS vesting_transfers (
    id BIGINT PRIMARY KEY,
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL,
    asset TEXT NOT NULL,
    total_amount NUMERIC(78,0) NOT NULL,
    released NUMERIC(78,0) NOT NULL,
    start_at BIGINT NOT NULL,
    cliff_at BIGINT NOT NULL,
    duration BIGINT NOT NULL,
    slice_period BIGINT NOT NULL,
    revocable BOOLEAN NOT NULL,
    revoked BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS vesting_transfers_sender_idx ON vesting_transfers (sender);
CREATE INDEX IF NOT EXISTS vesting_transfers_recipient_idx ON vesting_transfers (recipient);

CREATE TABLE IF NOT EXISTS ledger_config (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_events (
    seq BIGSERIAL PRIMARY KEY,
    kind TEXT NOT NULL,
    at TIMESTAMPTZ NOT NULL,
    data JSONB NOT NULL
);
`

// NewPostgresStore connects, ensures the schema, and seeds the minimum fee
// if the config row does not exist yet.
func NewPostgresStore(ctx context.Context, dsn string, defaultMinFee *big.Int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if defaultMinFee == nil {
		defaultMinFee = new(big.Int)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, ledgerSchemaSQL); err != nil {
		pool.Close()
		return nil, err
	}
	_, err = pool.Exec(ctx, `
INSERT INTO ledger_config (name, value) VALUES ('min_fee', $1)
ON CONFLICT (name) DO NOTHING
`, defaultMinFee.String())
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, now: s.now})
	})
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.Update(ctx, fn)
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping reports database reachability for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgTx struct {
	tx  pgx.Tx
	now func() time.Time
}

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func (t *pgTx) Claim(sender, recipient common.Address, a asset.Asset) (*PendingClaim, error) {
	row := t.tx.QueryRow(context.Background(), `
SELECT amount::text, claimed FROM pending_claims
WHERE sender = $1 AND recipient = $2 AND asset = $3
`, addrKey(sender), addrKey(recipient), a.Key())

	var amountText string
	var claimed bool
	if err := row.Scan(&amountText, &claimed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	amount, err := parseNumeric(amountText)
	if err != nil {
		return nil, err
	}
	return &PendingClaim{
		Sender:    sender,
		Recipient: recipient,
		Asset:     a,
		Amount:    amount,
		Claimed:   claimed,
	}, nil
}

func (t *pgTx) PutClaim(c *PendingClaim) error {
	_, err := t.tx.Exec(context.Background(), `
INSERT INTO pending_claims (sender, recipient, asset, amount, claimed)
VALUES ($1, $2, $3, $4::numeric, $5)
ON CONFLICT (sender, recipient, asset) DO UPDATE
SET amount = EXCLUDED.amount, claimed = EXCLUDED.claimed
`, addrKey(c.Sender), addrKey(c.Recipient), c.Asset.Key(), c.Amount.String(), c.Claimed)
	return err
}

func (t *pgTx) DeleteClaim(sender, recipient common.Address, a asset.Asset) error {
	_, err := t.tx.Exec(context.Background(), `
DELETE FROM pending_claims WHERE sender = $1 AND recipient = $2 AND asset = $3
`, addrKey(sender), addrKey(recipient), a.Key())
	return err
}

func (t *pgTx) ClaimsByRecipient(recipient common.Address) ([]*PendingClaim, error) {
	return t.queryClaims(`recipient = $1`, addrKey(recipient))
}

func (t *pgTx) ClaimsBySender(sender common.Address) ([]*PendingClaim, error) {
	return t.queryClaims(`sender = $1`, addrKey(sender))
}

func (t *pgTx) queryClaims(where string, arg string) ([]*PendingClaim, error) {
	rows, err := t.tx.Query(context.Background(), `
SELECT sender, recipient, asset, amount::text, claimed FROM pending_claims
WHERE `+where+`
ORDER BY sender, recipient, asset
`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingClaim
	for rows.Next() {
		var sender, recipient, assetStr, amountText string
		var claimed bool
		if err := rows.Scan(&sender, &recipient, &assetStr, &amountText, &claimed); err != nil {
			return nil, err
		}
		a, err := asset.Parse(assetStr)
		if err != nil {
			return nil, err
		}
		amount, err := parseNumeric(amountText)
		if err != nil {
			return nil, err
		}
		out = append(out, &PendingClaim{
			Sender:    common.HexToAddress(sender),
			Recipient: common.HexToAddress(recipient),
			Asset:     a,
			Amount:    amount,
			Claimed:   claimed,
		})
	}
	return out, rows.Err()
}

func (t *pgTx) NextTransferID() (uint64, error) {
	var id int64
	err := t.tx.QueryRow(context.Background(), `SELECT nextval('vesting_transfer_ids')`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (t *pgTx) Transfer(id uint64) (*VestingTransfer, error) {
	transfers, err := t.queryTransfers(`id = $1`, int64(id))
	if err != nil || len(transfers) == 0 {
		return nil, err
	}
	return transfers[0], nil
}

func (t *pgTx) PutTransfer(v *VestingTransfer) error {
	_, err := t.tx.Exec(context.Background(), `
INSERT INTO vesting_transfers
    (id, sender, recipient, asset, total_amount, released, start_at, cliff_at, duration, slice_period, revocable, revoked)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE
SET released = EXCLUDED.released, revoked = EXCLUDED.revoked
`, int64(v.ID), addrKey(v.Sender), addrKey(v.Recipient), v.Asset.Key(),
		v.TotalAmount.String(), v.Released.String(),
		v.Start, v.Cliff, v.Duration, v.SlicePeriodSeconds, v.Revocable, v.Revoked)
	return err
}

func (t *pgTx) TransfersBySender(sender common.Address) ([]*VestingTransfer, error) {
	return t.queryTransfers(`sender = $1`, addrKey(sender))
}

func (t *pgTx) TransfersByRecipient(recipient common.Address) ([]*VestingTransfer, error) {
	return t.queryTransfers(`recipient = $1`, addrKey(recipient))
}

func (t *pgTx) queryTransfers(where string, arg interface{}) ([]*VestingTransfer, error) {
	rows, err := t.tx.Query(context.Background(), `
SELECT id, sender, recipient, asset, total_amount::text, released::text,
       start_at, cliff_at, duration, slice_period, revocable, revoked
FROM vesting_transfers
WHERE `+where+`
ORDER BY id
`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*VestingTransfer
	for rows.Next() {
		var (
			id                            int64
			sender, recipient             string
			assetStr, totalText, relText  string
			start, cliff, duration, slice int64
			revocable, revoked            bool
		)
		err := rows.Scan(&id, &sender, &recipient, &assetStr, &totalText, &relText,
			&start, &cliff, &duration, &slice, &revocable, &revoked)
		if err != nil {
			return nil, err
		}
		a, err := asset.Parse(assetStr)
		if err != nil {
			return nil, err
		}
		total, err := parseNumeric(totalText)
		if err != nil {
			return nil, err
		}
		released, err := parseNumeric(relText)
		if err != nil {
			return nil, err
		}
		out = append(out, &VestingTransfer{
			ID:                 uint64(id),
			Sender:             common.HexToAddress(sender),
			Recipient:          common.HexToAddress(recipient),
			Asset:              a,
			TotalAmount:        total,
			Released:           released,
			Start:              start,
			Cliff:              cliff,
			Duration:           duration,
			SlicePeriodSeconds: slice,
			Revocable:          revocable,
			Revoked:            revoked,
		})
	}
	return out, rows.Err()
}

func (t *pgTx) MinFee() (*big.Int, error) {
	var value string
	err := t.tx.QueryRow(context.Background(), `SELECT value FROM ledger_config WHERE name = 'min_fee'`).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return parseNumeric(value)
}

func (t *pgTx) SetMinFee(fee *big.Int) error {
	_, err := t.tx.Exec(context.Background(), `
INSERT INTO ledger_config (name, value) VALUES ('min_fee', $1)
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
`, fee.String())
	return err
}

func (t *pgTx) AppendEvent(kind string, data map[string]string) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(context.Background(), `
INSERT INTO ledger_events (kind, at, data) VALUES ($1, $2, $3)
`, kind, t.now(), blob)
	return err
}

func (t *pgTx) Events(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.Query(context.Background(), `
SELECT seq, kind, at, data FROM ledger_events ORDER BY seq DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var seq int64
		var blob []byte
		if err := rows.Scan(&seq, &ev.Kind, &ev.At, &blob); err != nil {
			return nil, err
		}
		ev.Seq = uint64(seq)
		if err := json.Unmarshal(blob, &ev.Data); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// oldest first, matching the in-memory store
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}
