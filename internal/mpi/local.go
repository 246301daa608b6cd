package mpi

// NewLocalWorld returns size world communicators sharing one in-process hub.
// Each communicator is meant to be driven by its own goroutine.
func NewLocalWorld(size int, onAbort func(AbortNotice)) ([]Communicator, *Hub) {
	hub := NewHub(onAbort)
	comms := make([]Communicator, size)
	for rank := 0; rank < size; rank++ {
		comms[rank] = &communicator{
			id:        WorldID,
			rank:      rank,
			size:      size,
			worldRank: rank,
			transport: hub,
		}
	}
	return comms, hub
}
