package domain

import "time"

const (
	RoleCashier = "CASHIER"
	RoleAdmin   = "ADMIN"
)

const (
	SaleStatusPaid          = "PAID"
	SaleStatusUnpaid        = "UNPAID"
	SaleStatusPartiallyPaid = "PARTIALLY_PAID"
	SaleStatusCredit        = "CREDIT"
	SaleStatusCreditPaid    = "CREDIT_PAID"
)

const (
	ReceivableStatusUnpaid        = "UNPAID"
	ReceivableStatusPartiallyPaid = "PARTIALLY_PAID"
)

const PaymentMethodCash = "CASH"

// Principal is the authenticated caller of a store-scoped operation.
type Principal struct {
	UserID  string
	Role    string
	StoreID string
}

type Product struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type User struct {
	ID      string `json:"id"`
	StoreID string `json:"storeId"`
	Name    string `json:"name"`
	Role    string `json:"role"`
}

type Member struct {
	ID      string `json:"id"`
	StoreID string `json:"storeId"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
}

type PersonSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ProductSummary struct {
	ID   string `json:"id"`
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

type Sale struct {
	ID                 string         `json:"id"`
	StoreID            string         `json:"storeId"`
	InvoiceNumber      string         `json:"invoiceNumber"`
	CashierID          string         `json:"cashierId"`
	AttendantID        string         `json:"attendantId"`
	MemberID           *string        `json:"memberId"`
	Total              int64          `json:"total"`
	Tax                int64          `json:"tax"`
	Payment            int64          `json:"payment"`
	Change             int64          `json:"change"`
	Discount           int64          `json:"discount"`
	AdditionalDiscount int64          `json:"additionalDiscount"`
	Status             string         `json:"status"`
	PaymentMethod      string         `json:"paymentMethod"`
	ReferenceNumber    *string        `json:"referenceNumber"`
	Date               time.Time      `json:"date"`
	Details            []SaleDetail   `json:"saleDetails"`
	Cashier            *PersonSummary `json:"cashier,omitempty"`
	Attendant          *PersonSummary `json:"attendant,omitempty"`
	Member             *PersonSummary `json:"member,omitempty"`
}

type SaleDetail struct {
	ID        int64           `json:"id"`
	SaleID    string          `json:"saleId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     int64           `json:"price"`
	Discount  int64           `json:"discount"`
	Subtotal  int64           `json:"subtotal"`
	Product   *ProductSummary `json:"product,omitempty"`
}

type Receivable struct {
	ID         string    `json:"id"`
	SaleID     string    `json:"saleId"`
	StoreID    string    `json:"storeId"`
	MemberID   string    `json:"memberId"`
	AmountDue  int64     `json:"amountDue"`
	AmountPaid int64     `json:"amountPaid"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type SaleItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=2147483647"`
	Price     int64  `json:"price" validate:"gte=0"`
	Discount  int64  `json:"discount" validate:"gte=0"`
}

type CommitSaleRequest struct {
	Items              []SaleItemRequest `json:"items" validate:"dive"`
	Total              int64             `json:"total" validate:"gte=0"`
	Payment            int64             `json:"payment" validate:"gte=0"`
	Change             int64             `json:"change" validate:"gte=0"`
	Tax                int64             `json:"tax" validate:"gte=0"`
	MemberID           *string           `json:"memberId"`
	AttendantID        string            `json:"attendantId"`
	PaymentMethod      string            `json:"paymentMethod" validate:"omitempty,max=32"`
	Status             string            `json:"status" validate:"omitempty,oneof=PAID UNPAID PARTIALLY_PAID CREDIT CREDIT_PAID"`
	ReferenceNumber    *string           `json:"referenceNumber" validate:"omitempty,max=128"`
	Discount           int64             `json:"discount" validate:"gte=0"`
	AdditionalDiscount int64             `json:"additionalDiscount" validate:"gte=0"`
}

type AvailabilityRequest struct {
	Items []SaleItemRequest `json:"items" validate:"dive"`
}

// Shortage describes the first cart line that cannot be served from current stock.
type Shortage struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

type AvailabilityResult struct {
	Available bool      `json:"available"`
	Shortage  *Shortage `json:"shortage,omitempty"`
}

// StockChange is the post-decrement stock of one product.
type StockChange struct {
	ProductID string `json:"productId"`
	Stock     int    `json:"stock"`
}

type SaleFilter struct {
	StoreID  string
	MemberID string
	Page     int
	Limit    int
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type SalePage struct {
	Sales      []Sale     `json:"sales"`
	Pagination Pagination `json:"pagination"`
}

func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// IsOutstandingStatus reports whether a sale with this status may leave money owed.
func IsOutstandingStatus(status string) bool {
	switch status {
	case SaleStatusUnpaid, SaleStatusPartiallyPaid, SaleStatusCredit, SaleStatusCreditPaid:
		return true
	}
	return false
}

// IsCreditStatus reports whether the status requires a registered member.
func IsCreditStatus(status string) bool {
	return status == SaleStatusCredit || status == SaleStatusCreditPaid
}

func IsValidSaleStatus(status string) bool {
	return status == SaleStatusPaid || IsOutstandingStatus(status)
}
