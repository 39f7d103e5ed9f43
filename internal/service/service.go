package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/invoice"
	"retailpos/backend/internal/ledger"
	"retailpos/backend/internal/notify"
	"retailpos/backend/internal/observability"
	"retailpos/backend/internal/receivable"
	"retailpos/backend/internal/store"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrEmptyCart         = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrAttendantRequired = fmt.Errorf("%w: attendant is required", ErrValidation)
	ErrMemberRequired    = fmt.Errorf("%w: member is required for credit sales", ErrValidation)

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(domain.Principal)
	return principal, ok
}

type Options struct {
	// Location decides the calendar day used in invoice numbers.
	Location             *time.Location
	CommitMaxAttempts    int
	CommitRetryBaseDelay time.Duration
	InvoiceMaxAttempts   int
	SalesCacheTTL        time.Duration
	SideEffectTimeout    time.Duration
}

type Dependencies struct {
	Repo     store.Repository
	Notifier *notify.Notifier
	Cache    *cache.Cache
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

type Service struct {
	repo        store.Repository
	ledger      *ledger.Ledger
	invoices    *invoice.Sequencer
	receivables *receivable.Manager
	notifier    *notify.Notifier
	cache       *cache.Cache
	metrics     *observability.Metrics
	logger      *slog.Logger
	validate    *validator.Validate
	group       singleflight.Group
	opts        Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(deps Dependencies, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CommitMaxAttempts < 1 {
		opts.CommitMaxAttempts = 3
	}
	if opts.CommitRetryBaseDelay <= 0 {
		opts.CommitRetryBaseDelay = 50 * time.Millisecond
	}
	if opts.InvoiceMaxAttempts < 1 {
		opts.InvoiceMaxAttempts = 5
	}
	if opts.SalesCacheTTL <= 0 {
		opts.SalesCacheTTL = 2 * time.Minute
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = 2 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readCache := deps.Cache
	if readCache == nil {
		readCache = cache.New(cache.NoopBackend{}, logger)
	}

	return &Service{
		repo:        deps.Repo,
		ledger:      ledger.New(deps.Repo),
		invoices:    invoice.NewSequencer(opts.Location, opts.InvoiceMaxAttempts),
		receivables: receivable.NewManager(),
		notifier:    deps.Notifier,
		cache:       readCache,
		metrics:     deps.Metrics,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
	}
}

// principal returns the caller bound to a store, or an auth error.
func (s *Service) principal(ctx context.Context) (domain.Principal, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.UserID == "" {
		return domain.Principal{}, ErrUnauthorized
	}
	if principal.Role != domain.RoleCashier && principal.Role != domain.RoleAdmin {
		return domain.Principal{}, fmt.Errorf("%w: role %q cannot record sales", ErrForbidden, principal.Role)
	}
	if principal.StoreID == "" {
		return domain.Principal{}, fmt.Errorf("%w: no store assigned", ErrForbidden)
	}
	return principal, nil
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
