package address

// IDSequence hands out strictly increasing row ids. It is owned by a single
// store batch and seeded from the largest committed id when the batch opens.
type IDSequence struct {
	next int64
}

// NewIDSequence starts the sequence at first.
func NewIDSequence(first int64) *IDSequence {
	return &IDSequence{next: first}
}

// Next returns the current id and advances the sequence.
func (s *IDSequence) Next() int64 {
	id := s.next
	s.next++
	return id
}

// Peek returns the id the next call to Next will return.
func (s *IDSequence) Peek() int64 {
	return s.next
}
