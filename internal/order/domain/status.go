package domain

// Status values apply at the order level; items use the same names minus
// "processing".
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

func (s Status) String() string {
	return string(s)
}

// fulfillmentRank orders the forward lattice
// pending < confirmed < processing < shipped < delivered.
// Terminal statuses have no rank.
var fulfillmentRank = map[Status]int{
	StatusPending:    0,
	StatusConfirmed:  1,
	StatusProcessing: 2,
	StatusShipped:    3,
	StatusDelivered:  4,
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusReturned
}

// ValidItemStatus reports whether s is usable at the item level
// (the item lattice has no "processing" step).
func ValidItemStatus(s Status) bool {
	return s.IsValid() && s != StatusProcessing
}

// CanTransition reports whether an order may move from to next.
// Forward moves along the fulfillment lattice are allowed (skipping steps
// is fine, going backwards is not). cancelled is reachable from any
// non-terminal status; returned only from delivered.
func CanTransition(from, next Status) bool {
	if from.IsTerminal() {
		return false
	}
	switch next {
	case StatusCancelled:
		return true
	case StatusReturned:
		return from == StatusDelivered
	}
	fromRank, ok1 := fulfillmentRank[from]
	nextRank, ok2 := fulfillmentRank[next]
	if !ok1 || !ok2 {
		return false
	}
	return nextRank > fromRank
}

// CanBuyerCancel reports whether a buyer-initiated cancellation is still
// permitted. Once fulfillment has started cancellation is a seller-side
// operation.
func CanBuyerCancel(current Status) bool {
	return current == StatusPending || current == StatusConfirmed
}

// cascades reports whether an order-wide status change advances item
// statuses alongside it. processing has no item-level counterpart and
// returned is handled per item.
func cascades(next Status) bool {
	switch next {
	case StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// itemAdvances reports whether an item at current should follow an
// order-wide move to next: only items strictly behind the target on the
// lattice move, and terminal items never move.
func itemAdvances(current, next Status) bool {
	if current.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	currentRank, ok1 := fulfillmentRank[current]
	nextRank, ok2 := fulfillmentRank[next]
	if !ok1 || !ok2 {
		return false
	}
	return currentRank < nextRank
}
