package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Options struct {
	// LockTimeout bounds how long a commit waits for a row lock.
	LockTimeout time.Duration
}

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool, opts Options) *Store {
	return &Store{pool: pool, lockTimeout: opts.LockTimeout}
}

// Migrate creates any missing tables. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("postgres: begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify(fmt.Errorf("postgres: set lock timeout: %w", err))
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("postgres: commit tx: %w", err))
	}
	return nil
}

const productColumns = `id, store_id, sku, name, price, stock, updated_at`

func scanProducts(rows pgx.Rows) (map[string]domain.Product, error) {
	defer rows.Close()
	out := make(map[string]domain.Product)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.SKU, &p.Name, &p.Price, &p.Stock, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) GetProducts(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1 AND id = ANY($2)
	`, storeID, productIDs)
	if err != nil {
		return nil, classify(err)
	}
	products, err := scanProducts(rows)
	return products, classify(err)
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1
		ORDER BY name
	`, storeID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.SKU, &p.Name, &p.Price, &p.Stock, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, classify(rows.Err())
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	memberID := nullIfEmpty(filter.MemberID)

	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM sales
		WHERE store_id = $1 AND ($2::text IS NULL OR member_id = $2)
	`, filter.StoreID, memberID).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.store_id, s.invoice_number, s.cashier_id, s.attendant_id, s.member_id,
		       s.total, s.tax, s.payment, s.change, s.discount, s.additional_discount,
		       s.status, s.payment_method, s.reference_number, s.date,
		       c.name, a.name, m.name
		FROM sales s
		JOIN users c ON c.id = s.cashier_id
		JOIN users a ON a.id = s.attendant_id
		LEFT JOIN members m ON m.id = s.member_id
		WHERE s.store_id = $1 AND ($2::text IS NULL OR s.member_id = $2)
		ORDER BY s.date DESC, s.invoice_number DESC
		LIMIT $3 OFFSET $4
	`, filter.StoreID, memberID, filter.Limit, (filter.Page-1)*filter.Limit)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, filter.Limit)
	index := make(map[string]int)
	ids := make([]string, 0, filter.Limit)
	for rows.Next() {
		var (
			sale          domain.Sale
			cashierName   string
			attendantName string
			memberName    *string
		)
		if err := rows.Scan(
			&sale.ID, &sale.StoreID, &sale.InvoiceNumber, &sale.CashierID, &sale.AttendantID, &sale.MemberID,
			&sale.Total, &sale.Tax, &sale.Payment, &sale.Change, &sale.Discount, &sale.AdditionalDiscount,
			&sale.Status, &sale.PaymentMethod, &sale.ReferenceNumber, &sale.Date,
			&cashierName, &attendantName, &memberName,
		); err != nil {
			return nil, 0, err
		}
		sale.Cashier = &domain.PersonSummary{ID: sale.CashierID, Name: cashierName}
		sale.Attendant = &domain.PersonSummary{ID: sale.AttendantID, Name: attendantName}
		if sale.MemberID != nil && memberName != nil {
			sale.Member = &domain.PersonSummary{ID: *sale.MemberID, Name: *memberName}
		}
		sale.Details = []domain.SaleDetail{}
		index[sale.ID] = len(sales)
		ids = append(ids, sale.ID)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	if len(ids) == 0 {
		return sales, total, nil
	}

	detailRows, err := s.pool.Query(ctx, `
		SELECT d.id, d.sale_id, d.product_id, d.quantity, d.price, d.discount, d.subtotal, p.sku, p.name
		FROM sale_details d
		JOIN products p ON p.id = d.product_id
		WHERE d.sale_id = ANY($1)
		ORDER BY d.id
	`, ids)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer detailRows.Close()

	for detailRows.Next() {
		var (
			d         domain.SaleDetail
			sku, name string
		)
		if err := detailRows.Scan(&d.ID, &d.SaleID, &d.ProductID, &d.Quantity, &d.Price, &d.Discount, &d.Subtotal, &sku, &name); err != nil {
			return nil, 0, err
		}
		d.Product = &domain.ProductSummary{ID: d.ProductID, SKU: sku, Name: name}
		i := index[d.SaleID]
		sales[i].Details = append(sales[i].Details, d)
	}
	return sales, total, classify(detailRows.Err())
}

func (s *Store) GetReceivableBySale(ctx context.Context, saleID string) (*domain.Receivable, error) {
	r, err := scanReceivable(s.pool.QueryRow(ctx, `
		SELECT `+receivableColumns+`
		FROM receivables
		WHERE sale_id = $1
	`, saleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return r, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockProducts(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, storeID, productIDs)
	if err != nil {
		return nil, classify(err)
	}
	products, err := scanProducts(rows)
	return products, classify(err)
}

func (t *pgTx) DecrementStock(ctx context.Context, storeID, productID string, qty int) (int, bool, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $3, updated_at = now()
		WHERE id = $1 AND store_id = $2 AND stock >= $3
		RETURNING stock
	`, productID, storeID, qty).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err)
	}
	return stock, true, nil
}

func (t *pgTx) ProductStock(ctx context.Context, storeID, productID string) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `
		SELECT stock FROM products WHERE id = $1 AND store_id = $2
	`, productID, storeID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrProductNotFound
	}
	return stock, classify(err)
}

func (t *pgTx) NextInvoiceSequence(ctx context.Context, storeID string, day time.Time) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoice_counters (store_id, day, last_seq)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (store_id, day)
		DO UPDATE SET last_seq = invoice_counters.last_seq + 1
		RETURNING last_seq
	`, storeID, day.Format("2006-01-02")).Scan(&seq)
	return seq, classify(err)
}

func (t *pgTx) InvoiceExists(ctx context.Context, storeID, invoiceNumber string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sales WHERE store_id = $1 AND invoice_number = $2)
	`, storeID, invoiceNumber).Scan(&exists)
	return exists, classify(err)
}

func (t *pgTx) GetUser(ctx context.Context, storeID, userID string) (*domain.User, error) {
	var u domain.User
	err := t.tx.QueryRow(ctx, `
		SELECT id, store_id, name, role FROM users WHERE id = $1 AND store_id = $2
	`, userID, storeID).Scan(&u.ID, &u.StoreID, &u.Name, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &u, nil
}

func (t *pgTx) GetMember(ctx context.Context, storeID, memberID string) (*domain.Member, error) {
	var (
		m     domain.Member
		phone *string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, store_id, name, phone FROM members WHERE id = $1 AND store_id = $2
	`, memberID, storeID).Scan(&m.ID, &m.StoreID, &m.Name, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	if phone != nil {
		m.Phone = *phone
	}
	return &m, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO sales (
			id, store_id, invoice_number, cashier_id, attendant_id, member_id,
			total, tax, payment, change, discount, additional_discount,
			status, payment_method, reference_number, date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		sale.ID, sale.StoreID, sale.InvoiceNumber, sale.CashierID, sale.AttendantID, sale.MemberID,
		sale.Total, sale.Tax, sale.Payment, sale.Change, sale.Discount, sale.AdditionalDiscount,
		sale.Status, sale.PaymentMethod, sale.ReferenceNumber, sale.Date,
	); err != nil {
		return classify(fmt.Errorf("insert sale: %w", err))
	}

	for i := range sale.Details {
		d := &sale.Details[i]
		d.SaleID = sale.ID
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO sale_details (sale_id, product_id, quantity, price, discount, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, d.SaleID, d.ProductID, d.Quantity, d.Price, d.Discount, d.Subtotal).Scan(&d.ID); err != nil {
			return classify(fmt.Errorf("insert sale detail: %w", err))
		}
	}
	return nil
}

const receivableColumns = `id, sale_id, store_id, member_id, amount_due, amount_paid, status, created_at`

func scanReceivable(row pgx.Row) (*domain.Receivable, error) {
	var r domain.Receivable
	if err := row.Scan(&r.ID, &r.SaleID, &r.StoreID, &r.MemberID, &r.AmountDue, &r.AmountPaid, &r.Status, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) InsertReceivable(ctx context.Context, r domain.Receivable) (*domain.Receivable, bool, error) {
	created, err := scanReceivable(t.tx.QueryRow(ctx, `
		INSERT INTO receivables (`+receivableColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sale_id) DO NOTHING
		RETURNING `+receivableColumns,
		r.ID, r.SaleID, r.StoreID, r.MemberID, r.AmountDue, r.AmountPaid, r.Status, r.CreatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, classify(fmt.Errorf("insert receivable: %w", err))
	}

	existing, err := scanReceivable(t.tx.QueryRow(ctx, `
		SELECT `+receivableColumns+` FROM receivables WHERE sale_id = $1
	`, r.SaleID))
	if err != nil {
		return nil, false, classify(fmt.Errorf("load receivable: %w", err))
	}
	return existing, false, nil
}

// classify tags driver errors with the store sentinel a caller can act on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		case "23505":
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
