// Package draw implements weighted winner selection for a raffle listing.
// It is pure: no store access, no side effects.
package draw

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Entry is one buyer's stake in a listing. Each unit of Quantity is one
// independent entry in the draw population.
type Entry struct {
	BuyerID  uuid.UUID
	Quantity int64
}

// Select picks one winner from the implicit weighted population: a buyer
// holding q of N total entries wins with probability q/N.
//
// The second return is false when the population is empty — that is not an
// error, it signals "no eligible draw" (the listing had no tickets sold).
//
// Randomness comes from crypto/rand: seeding from listing attributes or
// wall-clock time would make outcomes predictable to a motivated buyer.
func Select(entries []Entry) (uuid.UUID, bool, error) {
	var total int64
	for _, e := range entries {
		if e.Quantity > 0 {
			total += e.Quantity
		}
	}
	if total == 0 {
		return uuid.Nil, false, nil
	}

	pick, err := rand.Int(rand.Reader, big.NewInt(total))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("random source: %w", err)
	}

	// Walk the cumulative distribution. Entry order does not affect the
	// per-buyer probability, only which interval maps to which buyer.
	remaining := pick.Int64()
	for _, e := range entries {
		if e.Quantity <= 0 {
			continue
		}
		if remaining < e.Quantity {
			return e.BuyerID, true, nil
		}
		remaining -= e.Quantity
	}

	// Unreachable: remaining < total by construction.
	return uuid.Nil, false, fmt.Errorf("selection walked past %d entries", total)
}
