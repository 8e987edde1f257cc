package repository

// SeatStore bundles the pool, assignment and event repositories into the
// store the engine consumes.
type SeatStore struct {
	PoolRepo
	AssignmentRepo
	EventRepo
}

// NewSeatStore returns a SeatStore.
func NewSeatStore() *SeatStore { return &SeatStore{} }
