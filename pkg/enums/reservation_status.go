package enums

// ReservationStatus tracks the lifecycle of an inventory hold.
type ReservationStatus string

const (
	ReservationStatusHeld      ReservationStatus = "held"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
)

func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationStatusHeld, ReservationStatusCommitted, ReservationStatusReleased:
		return true
	default:
		return false
	}
}
