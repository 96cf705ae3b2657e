package ordering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func randomHex(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
}

func formatOrderNo(now time.Time, suffix string) string {
	return "ORD" + now.Format("20060102150405") + suffix
}

func formatPaymentNo(now time.Time, suffix string) string {
	return "PAY" + now.Format("20060102150405") + suffix
}

// nextOrderNo draws order numbers until one is unused, giving up after the
// configured number of attempts.
func (s *Service) nextOrderNo(ctx context.Context, repo Repository, now time.Time) (string, error) {
	for attempt := 0; attempt < s.orderNoAttempts; attempt++ {
		candidate := formatOrderNo(now, s.newSuffix(6))
		exists, err := repo.OrderNoExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free order number after %d attempts", ErrConcurrencyConflict, s.orderNoAttempts)
}
