package core

import (
	"strconv"
	"sync/atomic"
)

// SessionID identifies one peer session inside the pool.
// Ids are assigned in creation order and never reused.
type SessionID uint64

func (id SessionID) String() string { return strconv.FormatUint(uint64(id), 10) }

var sessionCounter atomic.Uint64

// NextSessionID hands out the next process-wide session id, starting at zero.
func NextSessionID() SessionID {
	return SessionID(sessionCounter.Add(1) - 1)
}
