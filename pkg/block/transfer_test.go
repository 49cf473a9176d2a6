package block

import (
	"bytes"
	"errors"
	"testing"
)

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestAcceptFirmwareImage(t *testing.T) {
	blocks := [][]byte{fill(128, 'a'), fill(128, 'b'), fill(44, 'c')}
	r := NewReassembler(4096)

	for i, p := range blocks[:2] {
		res, err := r.Accept("/5/0/0", uint16(100+i), p, 128, uint32(i), true)
		if err != nil {
			t.Fatalf("block %d: Accept() error = %v", i, err)
		}
		if res.Status != StatusContinue {
			t.Fatalf("block %d: Status = %v, want %v", i, res.Status, StatusContinue)
		}
		if res.Body != nil {
			t.Errorf("block %d: Body = %d bytes, want none", i, len(res.Body))
		}
	}

	res, err := r.Accept("/5/0/0", 102, blocks[2], 128, 2, false)
	if err != nil {
		t.Fatalf("last block: Accept() error = %v", err)
	}
	if res.Status != StatusComplete {
		t.Fatalf("Status = %v, want %v", res.Status, StatusComplete)
	}
	want := bytes.Join(blocks, nil)
	if len(res.Body) != 300 {
		t.Errorf("len(Body) = %d, want 300", len(res.Body))
	}
	if !bytes.Equal(res.Body, want) {
		t.Error("Body is not the concatenation of the blocks")
	}
}

func TestAcceptRetransmission(t *testing.T) {
	tr, _, _, err := Accept(nil, 0, 1, fill(16, 'x'), 16, 0, true)
	if err != nil {
		t.Fatalf("Accept(0) error = %v", err)
	}
	tr, status, _, err := Accept(tr, 0, 2, fill(16, 'y'), 16, 1, true)
	if err != nil || status != StatusContinue {
		t.Fatalf("Accept(1) = %v, %v", status, err)
	}

	tr, status, _, err = Accept(tr, 0, 2, fill(16, 'y'), 16, 1, true)
	if err != nil {
		t.Fatalf("retransmitted Accept(1) error = %v", err)
	}
	if status != StatusContinue {
		t.Errorf("Status = %v, want %v", status, StatusContinue)
	}
	if tr.Len() != 32 {
		t.Errorf("Len() = %d, want 32", tr.Len())
	}

	// Final block retransmitted answers with the same body.
	tr, _, first, err := Accept(tr, 0, 3, fill(4, 'z'), 16, 2, false)
	if err != nil {
		t.Fatalf("Accept(2) error = %v", err)
	}
	_, status, again, err := Accept(tr, 0, 3, fill(4, 'z'), 16, 2, false)
	if err != nil || status != StatusComplete {
		t.Fatalf("retransmitted Accept(2) = %v, %v", status, err)
	}
	if !bytes.Equal(first, again) || len(again) != 36 {
		t.Errorf("retransmitted body = %d bytes, want identical 36", len(again))
	}
}

func TestAcceptRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func() *Transfer
		maxSize int
		mid     uint16
		payload []byte
		num     uint32
		wantErr error
	}{
		{
			name:    "no first block",
			setup:   func() *Transfer { return nil },
			mid:     5,
			payload: fill(16, 'a'),
			num:     1,
			wantErr: ErrIncomplete,
		},
		{
			name: "gap",
			setup: func() *Transfer {
				tr, _, _, _ := Accept(nil, 0, 1, fill(16, 'a'), 16, 0, true)
				return tr
			},
			mid:     3,
			payload: fill(16, 'c'),
			num:     2,
			wantErr: ErrIncomplete,
		},
		{
			name: "too large",
			setup: func() *Transfer {
				tr, _, _, _ := Accept(nil, 40, 1, fill(16, 'a'), 16, 0, true)
				return tr
			},
			maxSize: 40,
			mid:     2,
			payload: fill(32, 'b'),
			num:     1,
			wantErr: ErrEntityTooLarge,
		},
		{
			name: "exactly at limit",
			setup: func() *Transfer {
				tr, _, _, _ := Accept(nil, 32, 1, fill(16, 'a'), 16, 0, true)
				return tr
			},
			maxSize: 32,
			mid:     2,
			payload: fill(16, 'b'),
			num:     1,
			wantErr: ErrEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := tt.setup()
			before := append([]byte(nil), tr.Bytes()...)
			beforeMID := uint16(0)
			if tr != nil {
				beforeMID = tr.LastMessageID()
			}

			got, _, _, err := Accept(tr, tt.maxSize, tt.mid, tt.payload, 16, tt.num, true)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Accept() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if got != tr {
				t.Error("Accept() replaced the transfer on error")
			}
			if !bytes.Equal(got.Bytes(), before) {
				t.Error("Accept() mutated the buffer on error")
			}
			if got != nil && got.LastMessageID() != beforeMID {
				t.Errorf("LastMessageID() = %d, want %d", got.LastMessageID(), beforeMID)
			}
		})
	}
}

func TestAcceptRestart(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Accept("k", 1, fill(16, 'a'), 16, 0, true); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Accept("k", 2, fill(16, 'b'), 16, 1, true); err != nil {
		t.Fatal(err)
	}

	res, err := r.Accept("k", 9, fill(8, 'n'), 16, 0, false)
	if err != nil {
		t.Fatalf("restart Accept() error = %v", err)
	}
	if res.Status != StatusComplete || !bytes.Equal(res.Body, fill(8, 'n')) {
		t.Errorf("restart = %v %q, want Complete with new body", res.Status, res.Body)
	}
}

func TestReassemblerKeysAndRelease(t *testing.T) {
	r := NewReassembler(0)
	if _, err := r.Accept("a", 1, fill(16, 'a'), 16, 0, true); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Accept("b", 2, fill(32, 'b'), 32, 0, true); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
	if got := r.Pending("b"); got != 32 {
		t.Errorf("Pending(b) = %d, want 32", got)
	}

	r.Release("a")
	if _, err := r.Accept("a", 3, fill(16, 'a'), 16, 1, true); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Accept after Release error = %v, want %v", err, ErrIncomplete)
	}

	r.ReleaseAll()
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
	if r.MaxSize() != DefaultMaxSize {
		t.Errorf("MaxSize() = %d, want %d", r.MaxSize(), DefaultMaxSize)
	}
}
