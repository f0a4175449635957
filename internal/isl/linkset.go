package isl

import "errors"

// MaxLinks is the hard per-satellite laser terminal count.
const MaxLinks = 4

var (
	// ErrSelfLink is returned when a satellite is paired with itself.
	ErrSelfLink = errors.New("isl: satellite cannot link to itself")
	// ErrDuplicateLink is returned when the peer is already in the set.
	ErrDuplicateLink = errors.New("isl: peer already linked")
	// ErrLinkCapacity is returned when either side already has MaxLinks peers.
	ErrLinkCapacity = errors.New("isl: link capacity reached")
	// ErrNotCandidate is returned when the peer is outside the proposer's
	// candidate pool.
	ErrNotCandidate = errors.New("isl: peer not in candidate pool")
)

// LinkSet is a fixed-capacity set of peer satellite IDs. Membership is a
// linear scan.
type LinkSet struct {
	peers [MaxLinks]int
	n     int
}

// Len returns the number of peers.
func (s *LinkSet) Len() int { return s.n }

// Full reports whether the set holds MaxLinks peers.
func (s *LinkSet) Full() bool { return s.n == MaxLinks }

// Contains reports whether id is in the set.
func (s *LinkSet) Contains(id int) bool {
	for i := 0; i < s.n; i++ {
		if s.peers[i] == id {
			return true
		}
	}
	return false
}

// Add inserts id. It never grows the set past MaxLinks.
func (s *LinkSet) Add(id int) error {
	if s.Contains(id) {
		return ErrDuplicateLink
	}
	if s.Full() {
		return ErrLinkCapacity
	}
	s.peers[s.n] = id
	s.n++
	return nil
}

// Peers returns a copy of the members in insertion order.
func (s *LinkSet) Peers() []int {
	out := make([]int, s.n)
	copy(out, s.peers[:s.n])
	return out
}

// Clear empties the set.
func (s *LinkSet) Clear() { s.n = 0 }
