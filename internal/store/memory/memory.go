package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// Store keeps every table in maps guarded by one mutex. Transactions run
// against a copy of the state that replaces the live one only on success.
type Store struct {
	mu    sync.Mutex
	state state
}

type state struct {
	products     map[string]domain.Product
	users        map[string]domain.User
	members      map[string]domain.Member
	counters     map[string]int
	sales        []domain.Sale
	receivables  map[string]domain.Receivable
	nextDetailID int64
}

func New() *Store {
	return &Store{state: state{
		products:     map[string]domain.Product{},
		users:        map[string]domain.User{},
		members:      map[string]domain.Member{},
		counters:     map[string]int{},
		receivables:  map[string]domain.Receivable{},
		nextDetailID: 1,
	}}
}

const DemoStoreID = "store-001"

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{ID: "prd-mie-goreng", SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", Price: 3500, Stock: 120},
		{ID: "prd-telur-10", SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", Price: 26500, Stock: 40},
		{ID: "prd-susu-uht", SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", Price: 18900, Stock: 60},
		{ID: "prd-roti-tawar", SKU: "SKU-ROTI-01", Name: "Roti Tawar", Price: 17800, Stock: 25},
		{ID: "prd-kopi-sachet", SKU: "SKU-KOPI-01", Name: "Kopi Sachet", Price: 2600, Stock: 200},
		{ID: "prd-gula-1kg", SKU: "SKU-GULA-01", Name: "Gula 1kg", Price: 17400, Stock: 30},
	} {
		p.StoreID = DemoStoreID
		p.UpdatedAt = now
		s.PutProduct(p)
	}
	s.PutUser(domain.User{ID: "usr-admin", StoreID: DemoStoreID, Name: "Admin Toko", Role: domain.RoleAdmin})
	s.PutUser(domain.User{ID: "usr-cashier", StoreID: DemoStoreID, Name: "Kasir Satu", Role: domain.RoleCashier})
	s.PutUser(domain.User{ID: "usr-attendant", StoreID: DemoStoreID, Name: "Pramuniaga Satu", Role: domain.RoleCashier})
	s.PutMember(domain.Member{ID: "mbr-budi", StoreID: DemoStoreID, Name: "Budi Santoso", Phone: "081200000001"})
	return s
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

func (s *Store) PutMember(m domain.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.members[m.ID] = m
}

// PutSale stores a sale as-is, bypassing the counter. Used to load history.
func (s *Store) PutSale(sale domain.Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.sales = append(s.state.sales, sale)
}

func (s *Store) Stock(storeID, productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.products[productID]
	if !ok || p.StoreID != storeID {
		return 0
	}
	return p.Stock
}

func (s *Store) SaleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.sales)
}

func (s *Store) Sales(storeID string) []domain.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Sale, 0, len(s.state.sales))
	for _, sale := range s.state.sales {
		if sale.StoreID == storeID {
			out = append(out, cloneSale(sale))
		}
	}
	return out
}

func (s *Store) ReceivableCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.receivables)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, &memTx{state: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) GetProducts(_ context.Context, storeID string, productIDs []string) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.productsOf(storeID, productIDs), nil
}

func (s *Store) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0)
	for _, p := range s.state.products {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]domain.Sale, 0)
	for _, sale := range s.state.sales {
		if sale.StoreID != filter.StoreID {
			continue
		}
		if filter.MemberID != "" && (sale.MemberID == nil || *sale.MemberID != filter.MemberID) {
			continue
		}
		matched = append(matched, sale)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Date.Equal(matched[j].Date) {
			return matched[i].InvoiceNumber > matched[j].InvoiceNumber
		}
		return matched[i].Date.After(matched[j].Date)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.Limit
	if start < 0 || start >= total {
		return []domain.Sale{}, total, nil
	}
	end := min(start+filter.Limit, total)

	out := make([]domain.Sale, 0, end-start)
	for _, sale := range matched[start:end] {
		out = append(out, s.state.withSummaries(cloneSale(sale)))
	}
	return out, total, nil
}

func (s *Store) GetReceivableBySale(_ context.Context, saleID string) (*domain.Receivable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.receivables[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

type memTx struct {
	state *state
}

func (t *memTx) LockProducts(_ context.Context, storeID string, productIDs []string) (map[string]domain.Product, error) {
	return t.state.productsOf(storeID, productIDs), nil
}

func (t *memTx) DecrementStock(_ context.Context, storeID, productID string, qty int) (int, bool, error) {
	p, ok := t.state.products[productID]
	if !ok || p.StoreID != storeID {
		return 0, false, store.ErrProductNotFound
	}
	if p.Stock < qty {
		return p.Stock, false, nil
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	t.state.products[productID] = p
	return p.Stock, true, nil
}

func (t *memTx) ProductStock(_ context.Context, storeID, productID string) (int, error) {
	p, ok := t.state.products[productID]
	if !ok || p.StoreID != storeID {
		return 0, store.ErrProductNotFound
	}
	return p.Stock, nil
}

func (t *memTx) NextInvoiceSequence(_ context.Context, storeID string, day time.Time) (int, error) {
	key := storeID + "|" + day.Format("2006-01-02")
	t.state.counters[key]++
	return t.state.counters[key], nil
}

func (t *memTx) InvoiceExists(ctx context.Context, storeID, invoiceNumber string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, sale := range t.state.sales {
		if sale.StoreID == storeID && sale.InvoiceNumber == invoiceNumber {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) GetUser(_ context.Context, storeID, userID string) (*domain.User, error) {
	u, ok := t.state.users[userID]
	if !ok || u.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (t *memTx) GetMember(_ context.Context, storeID, memberID string) (*domain.Member, error) {
	m, ok := t.state.members[memberID]
	if !ok || m.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (t *memTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	exists, err := t.InvoiceExists(ctx, sale.StoreID, sale.InvoiceNumber)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrConflict
	}
	for i := range sale.Details {
		sale.Details[i].ID = t.state.nextDetailID
		sale.Details[i].SaleID = sale.ID
		t.state.nextDetailID++
	}
	t.state.sales = append(t.state.sales, cloneSale(*sale))
	return nil
}

func (t *memTx) InsertReceivable(_ context.Context, r domain.Receivable) (*domain.Receivable, bool, error) {
	if existing, ok := t.state.receivables[r.SaleID]; ok {
		return &existing, false, nil
	}
	t.state.receivables[r.SaleID] = r
	return &r, true, nil
}

func (st state) clone() state {
	return state{
		products:     maps.Clone(st.products),
		users:        st.users,
		members:      st.members,
		counters:     maps.Clone(st.counters),
		sales:        slices.Clone(st.sales),
		receivables:  maps.Clone(st.receivables),
		nextDetailID: st.nextDetailID,
	}
}

func (st state) productsOf(storeID string, productIDs []string) map[string]domain.Product {
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, ok := st.products[id]; ok && p.StoreID == storeID {
			out[id] = p
		}
	}
	return out
}

func (st state) withSummaries(sale domain.Sale) domain.Sale {
	if u, ok := st.users[sale.CashierID]; ok {
		sale.Cashier = &domain.PersonSummary{ID: u.ID, Name: u.Name}
	}
	if u, ok := st.users[sale.AttendantID]; ok {
		sale.Attendant = &domain.PersonSummary{ID: u.ID, Name: u.Name}
	}
	if sale.MemberID != nil {
		if m, ok := st.members[*sale.MemberID]; ok {
			sale.Member = &domain.PersonSummary{ID: m.ID, Name: m.Name}
		}
	}
	for i, d := range sale.Details {
		if p, ok := st.products[d.ProductID]; ok {
			sale.Details[i].Product = &domain.ProductSummary{ID: p.ID, SKU: p.SKU, Name: p.Name}
		}
	}
	return sale
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Details = slices.Clone(sale.Details)
	return sale
}
