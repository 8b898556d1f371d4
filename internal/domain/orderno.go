package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatOrderNo builds the order number sent to the processor. The shop order
// id is an increment number, so creating a charge would fail after a ledger
// reset reuses an id; the time suffix keeps order numbers unique on the
// processor side.
func FormatOrderNo(orderID int64, at time.Time) string {
	return fmt.Sprintf("%d-%s", orderID, at.Format("150405"))
}

// ParseOrderNo recovers the order id from an order number by taking the part
// before the first dash. A bare numeric id is accepted as-is.
func ParseOrderNo(orderNo string) (int64, error) {
	head, _, _ := strings.Cut(orderNo, "-")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed order number %q: %w", orderNo, err)
	}
	if id < 0 {
		return 0, fmt.Errorf("malformed order number %q: negative id", orderNo)
	}
	return id, nil
}
