package ledger

import "fmt"

// =============================================================================
// BOOKING - What the booking subsystem hands the ledger on lifecycle events
// =============================================================================

// RoomConfiguration describes rooms beyond the guest's own accommodation.
type RoomConfiguration struct {
	AdditionalRooms          int
	AdditionalRoomCategoryID string
}

type Booking struct {
	ID            BookingID
	GuestID       GuestID
	Stay          Stay
	Rooms         RoomConfiguration
	RatePackageID string
}

// Validate checks the booking is well formed.
func (b Booking) Validate() error {
	switch {
	case b.ID == "":
		return fmt.Errorf("%w: booking id is required", ErrInvalidBooking)
	case b.GuestID == "":
		return fmt.Errorf("%w: guest id is required", ErrInvalidBooking)
	case b.Stay.CheckIn.IsZero() || b.Stay.CheckOut.IsZero():
		return fmt.Errorf("%w: stay dates are required", ErrInvalidBooking)
	case b.Stay.Nights() <= 0:
		return fmt.Errorf("%w: check-out %s must be after check-in %s", ErrInvalidBooking, b.Stay.CheckOut, b.Stay.CheckIn)
	case b.Rooms.AdditionalRooms < 0:
		return fmt.Errorf("%w: additional rooms cannot be negative", ErrInvalidBooking)
	}
	return nil
}

// RequiredNights derives the per-pool requirement from the stay and rooms:
// one primary night per night slept, and one additional night per extra room
// per night.
func (b Booking) RequiredNights() Nights {
	n := b.Stay.Nights()
	if n < 0 {
		n = 0
	}
	return Nights{
		Primary:    n,
		Additional: n * b.Rooms.AdditionalRooms,
	}
}

func validateNights(n Nights) error {
	if n.Primary < 0 || n.Additional < 0 {
		return fmt.Errorf("%w: required nights cannot be negative", ErrInvalidBooking)
	}
	return nil
}
