package swaprepo

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// pgxRow is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query),
// letting scanRow serve both single-row and multi-row call sites.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every pending golang-migrate migration embedded in
// migrations/ to the database reachable at dsn.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("initializing migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

var _ = postgres.Postgres{} // ensure the postgres migration driver is linked in

// PostgresSwapRepository is a pgx-backed SwapRepository. Rows are stored
// with the same id/invoice/preimageHash/lockupAddress indices the bolt
// implementation maintains as separate buckets, expressed here as SQL
// indices instead.
type PostgresSwapRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSwapRepository wraps an already-connected pool. Call Migrate
// against the same dsn before constructing this in a fresh deployment.
func NewPostgresSwapRepository(pool *pgxpool.Pool) *PostgresSwapRepository {
	return &PostgresSwapRepository{pool: pool}
}

func (r *PostgresSwapRepository) Create(ctx context.Context, s *Swap) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO swaps (
			id, pair, order_side, chain_symbol, lightning_currency,
			invoice, preimage_hash, redeem_script, lockup_address,
			output_type, key_index, expected_amount, accept_zero_conf,
			timeout_block_height, status, refund_address,
			created_at, created_height
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18)`,
		s.ID, string(s.Pair), s.OrderSide, s.ChainSymbol, s.LightningCurrency,
		s.Invoice, s.PreimageHash[:], s.RedeemScript, s.LockupAddress,
		s.OutputType, s.KeyIndex, int64(s.ExpectedAmount), s.AcceptZeroConf,
		s.TimeoutBlockHeight, string(s.Status), s.RefundAddress,
		s.CreatedAt, s.CreatedHeight,
	)
	return err
}

func (r *PostgresSwapRepository) scanRow(row pgxRow) (*Swap, error) {
	var s Swap
	var preimageHash []byte

	err := row.Scan(
		&s.ID, &s.Pair, &s.OrderSide, &s.ChainSymbol, &s.LightningCurrency,
		&s.Invoice, &preimageHash, &s.RedeemScript, &s.LockupAddress,
		&s.OutputType, &s.KeyIndex, &s.ExpectedAmount, &s.AcceptZeroConf,
		&s.TimeoutBlockHeight, &s.Status, &s.LockupTransactionID, &s.LockupVout,
		&s.OnchainAmount, &s.MinerFee, &s.PercentageFee, &s.RefundAddress,
		&s.ClaimTransactionID, &s.RefundTransactionID,
		&s.CreatedAt, &s.CreatedHeight,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	copy(s.PreimageHash[:], preimageHash)
	return &s, nil
}

const swapColumns = `id, pair, order_side, chain_symbol, lightning_currency,
	invoice, preimage_hash, redeem_script, lockup_address,
	output_type, key_index, expected_amount, accept_zero_conf,
	timeout_block_height, status, lockup_transaction_id, lockup_vout,
	onchain_amount, miner_fee, percentage_fee, refund_address,
	claim_transaction_id, refund_transaction_id,
	created_at, created_height`

func (r *PostgresSwapRepository) GetByID(ctx context.Context, id string) (*Swap, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+swapColumns+` FROM swaps WHERE id = $1`, id)
	return r.scanRow(row)
}

func (r *PostgresSwapRepository) GetByInvoice(ctx context.Context, invoice string) (*Swap, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+swapColumns+` FROM swaps WHERE invoice = $1`, invoice)
	return r.scanRow(row)
}

func (r *PostgresSwapRepository) GetByPreimageHash(ctx context.Context, hash [32]byte) (*Swap, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+swapColumns+` FROM swaps WHERE preimage_hash = $1`, hash[:])
	return r.scanRow(row)
}

func (r *PostgresSwapRepository) GetByLockupAddress(ctx context.Context, address string) (*Swap, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+swapColumns+` FROM swaps WHERE lockup_address = $1`, address)
	return r.scanRow(row)
}

func (r *PostgresSwapRepository) GetPending(ctx context.Context) ([]*Swap, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+swapColumns+` FROM swaps WHERE status NOT IN (
		'transaction.claimed', 'invoice.failedToPay', 'invoice.settled',
		'transaction.refunded', 'swap.expired'
	)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Swap
	for rows.Next() {
		s, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ApplyTransition updates the mutable columns of an existing row within a
// single statement; the WHERE clause does not check the previous status,
// making repeated application of the same transition idempotent.
func (r *PostgresSwapRepository) ApplyTransition(ctx context.Context, s *Swap) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE swaps SET
			status = $2, lockup_transaction_id = $3, lockup_vout = $4,
			onchain_amount = $5, miner_fee = $6, percentage_fee = $7,
			claim_transaction_id = $8, refund_transaction_id = $9
		WHERE id = $1`,
		s.ID, string(s.Status), s.LockupTransactionID, s.LockupVout,
		int64(s.OnchainAmount), int64(s.MinerFee), int64(s.PercentageFee),
		s.ClaimTransactionID, s.RefundTransactionID,
	)
	return err
}

// PostgresReverseSwapRepository is the reverse-swap counterpart of
// PostgresSwapRepository.
type PostgresReverseSwapRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresReverseSwapRepository wraps an already-connected pool.
func NewPostgresReverseSwapRepository(pool *pgxpool.Pool) *PostgresReverseSwapRepository {
	return &PostgresReverseSwapRepository{pool: pool}
}

const reverseSwapColumns = `id, pair, order_side, chain_symbol, lightning_currency,
	invoice, preimage_hash, preimage, redeem_script, lockup_address,
	output_type, claim_public_key, key_index, timeout_block_height, status,
	transaction_id, onchain_amount, invoice_amount, miner_fee,
	claim_transaction_id, refund_transaction_id,
	created_at, created_height`

func (r *PostgresReverseSwapRepository) Create(ctx context.Context, s *ReverseSwap) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reverse_swaps (
			id, pair, order_side, chain_symbol, lightning_currency,
			invoice, preimage_hash, redeem_script, lockup_address,
			output_type, claim_public_key, key_index, timeout_block_height, status,
			created_at, created_height
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		s.ID, string(s.Pair), s.OrderSide, s.ChainSymbol, s.LightningCurrency,
		s.Invoice, s.PreimageHash[:], s.RedeemScript, s.LockupAddress,
		s.OutputType, s.ClaimPublicKey, s.KeyIndex, s.TimeoutBlockHeight, string(s.Status),
		s.CreatedAt, s.CreatedHeight,
	)
	return err
}

func (r *PostgresReverseSwapRepository) scanRow(row pgxRow) (*ReverseSwap, error) {
	var s ReverseSwap
	var preimageHash []byte
	var preimage []byte

	err := row.Scan(
		&s.ID, &s.Pair, &s.OrderSide, &s.ChainSymbol, &s.LightningCurrency,
		&s.Invoice, &preimageHash, &preimage, &s.RedeemScript, &s.LockupAddress,
		&s.OutputType, &s.ClaimPublicKey, &s.KeyIndex, &s.TimeoutBlockHeight, &s.Status,
		&s.TransactionID, &s.OnchainAmount, &s.InvoiceAmount, &s.MinerFee,
		&s.ClaimTransactionID, &s.RefundTransactionID,
		&s.CreatedAt, &s.CreatedHeight,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	copy(s.PreimageHash[:], preimageHash)
	if preimage != nil {
		var p [32]byte
		copy(p[:], preimage)
		s.Preimage = &p
	}
	return &s, nil
}

func (r *PostgresReverseSwapRepository) GetByID(ctx context.Context, id string) (*ReverseSwap, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reverseSwapColumns+` FROM reverse_swaps WHERE id = $1`, id)
	return r.scanRow(row)
}

func (r *PostgresReverseSwapRepository) GetByInvoice(ctx context.Context, invoice string) (*ReverseSwap, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reverseSwapColumns+` FROM reverse_swaps WHERE invoice = $1`, invoice)
	return r.scanRow(row)
}

func (r *PostgresReverseSwapRepository) GetByPreimageHash(ctx context.Context, hash [32]byte) (*ReverseSwap, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reverseSwapColumns+` FROM reverse_swaps WHERE preimage_hash = $1`, hash[:])
	return r.scanRow(row)
}

func (r *PostgresReverseSwapRepository) GetByLockupAddress(ctx context.Context, address string) (*ReverseSwap, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reverseSwapColumns+` FROM reverse_swaps WHERE lockup_address = $1`, address)
	return r.scanRow(row)
}

func (r *PostgresReverseSwapRepository) GetPending(ctx context.Context) ([]*ReverseSwap, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reverseSwapColumns+` FROM reverse_swaps WHERE status NOT IN (
		'transaction.claimed', 'invoice.failedToPay', 'invoice.settled',
		'transaction.refunded', 'swap.expired'
	)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ReverseSwap
	for rows.Next() {
		s, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresReverseSwapRepository) ApplyTransition(ctx context.Context, s *ReverseSwap) error {
	var preimage []byte
	if s.Preimage != nil {
		preimage = s.Preimage[:]
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE reverse_swaps SET
			status = $2, preimage = $3, transaction_id = $4,
			onchain_amount = $5, miner_fee = $6,
			claim_transaction_id = $7, refund_transaction_id = $8
		WHERE id = $1`,
		s.ID, string(s.Status), preimage, s.TransactionID,
		int64(s.OnchainAmount), int64(s.MinerFee),
		s.ClaimTransactionID, s.RefundTransactionID,
	)
	return err
}
