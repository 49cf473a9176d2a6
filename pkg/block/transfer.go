// Package block reassembles Block1 (RFC 7959) request bodies.
//
// A Transfer accumulates the fragments of one upload strictly in order. The
// Reassembler keys transfers by request context so that a block-wise PUT or
// POST to one resource does not disturb another.
//
// Rejected blocks never mutate an existing Transfer, so a corrected
// retransmission from the peer can still complete the upload.
package block

// Status is the outcome of accepting a block.
type Status int

const (
	// StatusContinue means more blocks are expected (answer 2.31).
	StatusContinue Status = iota
	// StatusComplete means the body is fully reassembled.
	StatusComplete
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "Continue"
	case StatusComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Transfer is the reassembly buffer of one block-wise upload.
type Transfer struct {
	data    []byte
	lastMID uint16
}

// Len returns the number of bytes accumulated so far.
func (t *Transfer) Len() int {
	if t == nil {
		return 0
	}
	return len(t.data)
}

// LastMessageID returns the message id of the last applied block.
func (t *Transfer) LastMessageID() uint16 {
	return t.lastMID
}

// Bytes returns the accumulated body. The slice is owned by the Transfer
// until Release.
func (t *Transfer) Bytes() []byte {
	if t == nil {
		return nil
	}
	return t.data
}

// Release drops the buffer. A released Transfer behaves as if block 0 was
// never received.
func (t *Transfer) Release() {
	if t == nil {
		return
	}
	t.data = nil
	t.lastMID = 0
}

// Accept applies one block to t and returns the new Transfer to use.
//
// t may be nil when no transfer is in progress. Block 0 always starts a new
// transfer. Any later block must be contiguous with what was accumulated
// (len == size*num) and keep the total below maxSize. A block carrying the
// message id of the last applied block is a retransmission and is not
// appended again.
//
// On complete the returned body aliases the Transfer buffer, which is kept so
// a retransmitted final block can be answered identically.
func Accept(t *Transfer, maxSize int, mid uint16, payload []byte, size int, num uint32, more bool) (*Transfer, Status, []byte, error) {
	if num == 0 {
		if maxSize > 0 && len(payload) >= maxSize {
			return t, 0, nil, ErrEntityTooLarge
		}
		buf := make([]byte, len(payload))
		copy(buf, payload)
		t = &Transfer{data: buf, lastMID: mid}
		return result(t, more)
	}

	if t == nil || t.data == nil {
		return t, 0, nil, ErrIncomplete
	}

	if t.lastMID == mid {
		return result(t, more)
	}

	if len(t.data) != size*int(num) {
		return t, 0, nil, ErrIncomplete
	}
	if maxSize > 0 && len(t.data)+len(payload) >= maxSize {
		return t, 0, nil, ErrEntityTooLarge
	}

	t.data = append(t.data, payload...)
	t.lastMID = mid
	return result(t, more)
}

func result(t *Transfer, more bool) (*Transfer, Status, []byte, error) {
	if more {
		return t, StatusContinue, nil, nil
	}
	return t, StatusComplete, t.data, nil
}
