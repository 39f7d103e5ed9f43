package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"retailpos/backend/internal/store"
)

func TestClassifyMapsSQLState(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"40001", store.ErrTransient},
		{"40P01", store.ErrTransient},
		{"55P03", store.ErrTransient},
		{"57014", store.ErrTransient},
		{"23505", store.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code}))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v for %s, got %v", tc.want, tc.code, err)
			}
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				t.Fatalf("driver error must stay reachable")
			}
		})
	}
}

func TestClassifyLeavesOtherErrors(t *testing.T) {
	if classify(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	err := classify(&pgconn.PgError{Code: "23514"})
	if errors.Is(err, store.ErrTransient) || errors.Is(err, store.ErrConflict) {
		t.Fatalf("check violation must not be retryable, got %v", err)
	}
	plain := errors.New("boom")
	if got := classify(plain); got != plain {
		t.Fatalf("expected plain error unchanged, got %v", got)
	}
}
