package address

import "errors"

// Invoke id bounds. Zero is reserved for unsolicited stream frames and 0xFFFF is
// never assigned.
const (
	MinInvokeID uint16 = 1
	MaxInvokeID uint16 = 0xFFFE

	invokeSpace = int(MaxInvokeID-MinInvokeID) + 1
)

// ErrInvokeIDsExhausted is returned when every invoke id is held by an outstanding call.
var ErrInvokeIDsExhausted = errors.New("address: all invoke ids are in flight")

// InvokeAllocator hands out invoke ids for one connection, cycling over
// [MinInvokeID, MaxInvokeID] and wrapping back to 1. It is not safe for concurrent
// use; the owning connection guards it with its own lock.
type InvokeAllocator struct {
	last uint16
}

// Next returns the next id that inUse does not report as outstanding. Passing a nil
// inUse gives plain wrap-around allocation.
func (a *InvokeAllocator) Next(inUse func(uint16) bool) (uint16, error) {
	id := a.last
	for i := 0; i < invokeSpace; i++ {
		if id >= MaxInvokeID || id < MinInvokeID {
			id = MinInvokeID
		} else {
			id++
		}
		if inUse == nil || !inUse(id) {
			a.last = id
			return id, nil
		}
	}
	return 0, ErrInvokeIDsExhausted
}
