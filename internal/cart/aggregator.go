package cart

import (
	"fmt"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// VendorGroup is one vendor's partition of a cart.
type VendorGroup struct {
	VendorID  int64
	Lines     []models.CartLine
	Subtotal  decimal.Decimal
	ItemCount int
}

// Summary is the partitioned cart.
type Summary struct {
	Groups        []VendorGroup
	GrandSubtotal decimal.Decimal
}

// VendorIDs lists vendors in processing order.
func (s Summary) VendorIDs() []int64 {
	ids := make([]int64, len(s.Groups))
	for i, g := range s.Groups {
		ids[i] = g.VendorID
	}
	return ids
}

// Group returns the group for vendorID, or nil.
func (s Summary) Group(vendorID int64) *VendorGroup {
	for i := range s.Groups {
		if s.Groups[i].VendorID == vendorID {
			return &s.Groups[i]
		}
	}
	return nil
}

// GroupByVendor partitions lines by vendor. Vendors appear in the order of
// their first line so processing order is stable across retries.
func GroupByVendor(lines []models.CartLine) (Summary, error) {
	summary := Summary{GrandSubtotal: decimal.Zero}
	index := make(map[int64]int, len(lines))

	for _, line := range lines {
		if line.Quantity <= 0 {
			return Summary{}, fmt.Errorf("cart line %d: quantity must be positive", line.ID)
		}
		if line.UnitPrice.IsNegative() {
			return Summary{}, fmt.Errorf("cart line %d: negative unit price", line.ID)
		}

		pos, ok := index[line.VendorID]
		if !ok {
			pos = len(summary.Groups)
			index[line.VendorID] = pos
			summary.Groups = append(summary.Groups, VendorGroup{VendorID: line.VendorID, Subtotal: decimal.Zero})
		}

		group := &summary.Groups[pos]
		total := line.LineTotal()
		group.Lines = append(group.Lines, line)
		group.Subtotal = group.Subtotal.Add(total)
		group.ItemCount += line.Quantity
		summary.GrandSubtotal = summary.GrandSubtotal.Add(total)
	}

	return summary, nil
}
