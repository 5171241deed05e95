package refinery

import "errors"

// ErrInsufficientCapacity is returned by Reserve when a tank's remaining
// budget cannot cover the requested amount or its RPM gate has no free slot.
var ErrInsufficientCapacity = errors.New("refinery: insufficient capacity")

// ErrUnknownProvider is returned when an operation names a provider with
// no configured tank.
var ErrUnknownProvider = errors.New("refinery: unknown provider")

// ErrUnknownReservation is returned by Reconcile/Release for a reservation
// id the Refinery has no record of (already reconciled or released).
var ErrUnknownReservation = errors.New("refinery: unknown reservation")
