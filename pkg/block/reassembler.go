package block

// DefaultMaxSize bounds a reassembled body when no limit is configured.
const DefaultMaxSize = 8 * 1024

// Result reports the outcome of Reassembler.Accept.
type Result struct {
	Status Status
	// Body is the complete payload when Status is StatusComplete.
	Body []byte
}

// Reassembler tracks Block1 transfers keyed by request context (typically
// the request path). It is owned by a single worker and is not safe for
// concurrent use.
type Reassembler struct {
	maxSize   int
	transfers map[string]*Transfer
}

// NewReassembler creates a reassembler. maxSize <= 0 selects DefaultMaxSize.
func NewReassembler(maxSize int) *Reassembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Reassembler{
		maxSize:   maxSize,
		transfers: make(map[string]*Transfer),
	}
}

// MaxSize returns the configured body limit.
func (r *Reassembler) MaxSize() int {
	return r.maxSize
}

// Accept applies one block of the transfer identified by key.
func (r *Reassembler) Accept(key string, mid uint16, payload []byte, size int, num uint32, more bool) (Result, error) {
	t, status, body, err := Accept(r.transfers[key], r.maxSize, mid, payload, size, num, more)
	if err != nil {
		return Result{}, err
	}
	r.transfers[key] = t
	return Result{Status: status, Body: body}, nil
}

// Pending returns the number of bytes accumulated for key.
func (r *Reassembler) Pending(key string) int {
	return r.transfers[key].Len()
}

// Release frees the transfer for key.
func (r *Reassembler) Release(key string) {
	if t, ok := r.transfers[key]; ok {
		t.Release()
		delete(r.transfers, key)
	}
}

// ReleaseAll frees every transfer.
func (r *Reassembler) ReleaseAll() {
	for key, t := range r.transfers {
		t.Release()
		delete(r.transfers, key)
	}
}

// Count returns the number of tracked transfers.
func (r *Reassembler) Count() int {
	return len(r.transfers)
}
