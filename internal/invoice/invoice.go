// Package invoice allocates per-store, per-day invoice numbers of the form
// YYYYMMDD followed by a five digit sequence, e.g. 2024031500042.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"retailpos/backend/internal/store"
)

const (
	dayLayout   = "20060102"
	maxSequence = 99999
)

var ErrInvoiceCollision = errors.New("invoice number could not be allocated")

type Sequencer struct {
	location    *time.Location
	maxAttempts int
}

func NewSequencer(location *time.Location, maxAttempts int) *Sequencer {
	if location == nil {
		location = time.UTC
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Sequencer{location: location, maxAttempts: maxAttempts}
}

// Next allocates the invoice number for a sale made at the given instant.
// It must run inside the transaction that inserts the sale so the counter
// increment rolls back with it.
func (s *Sequencer) Next(ctx context.Context, tx store.Tx, storeID string, at time.Time) (string, error) {
	day := s.Day(at)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		seq, err := tx.NextInvoiceSequence(ctx, storeID, day)
		if err != nil {
			return "", fmt.Errorf("invoice: next sequence: %w", err)
		}
		if seq > maxSequence {
			return "", fmt.Errorf("%w: daily sequence exhausted for store %s", ErrInvoiceCollision, storeID)
		}

		number := Format(day, seq)
		taken, err := tx.InvoiceExists(ctx, storeID, number)
		if err != nil {
			return "", fmt.Errorf("invoice: check %s: %w", number, err)
		}
		if !taken {
			return number, nil
		}
	}
	return "", fmt.Errorf("%w: %d attempts for store %s", ErrInvoiceCollision, s.maxAttempts, storeID)
}

// Day is the calendar day of t in the store's location, at midnight UTC.
func (s *Sequencer) Day(t time.Time) time.Time {
	local := t.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func Format(day time.Time, seq int) string {
	return fmt.Sprintf("%s%05d", day.Format(dayLayout), seq)
}

// Parse splits an invoice number into its day and sequence.
func Parse(number string) (time.Time, int, error) {
	if len(number) != len(dayLayout)+5 {
		return time.Time{}, 0, fmt.Errorf("invoice: malformed number %q", number)
	}
	day, err := time.Parse(dayLayout, number[:len(dayLayout)])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invoice: malformed day in %q: %w", number, err)
	}
	seq, err := strconv.Atoi(number[len(dayLayout):])
	if err != nil || seq < 1 {
		return time.Time{}, 0, fmt.Errorf("invoice: malformed sequence in %q", number)
	}
	return day, seq, nil
}
