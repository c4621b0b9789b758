package h264

import (
	"bytes"
	"io"
	mathbits "math/bits"

	"github.com/nareix/joy4/utils/bits"
	"golang.org/x/xerrors"
)

// bitWriter accumulates an RBSP most-significant bit first.
type bitWriter struct {
	buf   []byte
	cur   byte
	nbits uint
}

func (w *bitWriter) writeBit(b uint) {
	w.cur = w.cur<<1 | byte(b&1)
	w.nbits++
	if w.nbits == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur, w.nbits = 0, 0
	}
}

func (w *bitWriter) writeBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit(uint(v >> uint(i)))
	}
}

// writeUE writes an unsigned Exp-Golomb code, ue(v).
func (w *bitWriter) writeUE(v uint32) {
	x := uint64(v) + 1
	n := mathbits.Len64(x)
	w.writeBits(0, n-1)
	w.writeBits(x, n)
}

// writeSE writes a signed Exp-Golomb code, se(v).
func (w *bitWriter) writeSE(v int32) {
	if v > 0 {
		w.writeUE(uint32(2*v - 1))
	} else {
		w.writeUE(uint32(-2 * v))
	}
}

func (w *bitWriter) aligned() bool {
	return w.nbits == 0
}

func (w *bitWriter) alignZero() {
	for !w.aligned() {
		w.writeBit(0)
	}
}

// writeBytes writes whole bytes. The writer must be byte aligned.
func (w *bitWriter) writeBytes(p []byte) {
	if !w.aligned() {
		panic("h264: unaligned byte write")
	}
	w.buf = append(w.buf, p...)
}

// rbspTrailingBits writes the stop bit and aligns.
func (w *bitWriter) rbspTrailingBits() []byte {
	w.writeBit(1)
	w.alignZero()
	return w.buf
}

// bitReader wraps joy4's Exp-Golomb reader and tracks the bit position so
// that byte-aligned payloads (I_PCM samples) can be sliced out directly.
type bitReader struct {
	rbsp []byte
	g    *bits.GolombBitReader
	pos  int
}

func newBitReader(rbsp []byte) *bitReader {
	return &bitReader{rbsp: rbsp, g: &bits.GolombBitReader{R: bytes.NewReader(rbsp)}}
}

func (r *bitReader) u(n int) (uint, error) {
	v, err := r.g.ReadBits(n)
	if err != nil {
		return 0, xerrors.Errorf("read u(%d) at bit %d: %w", n, r.pos, err)
	}
	r.pos += n
	return v, nil
}

func (r *bitReader) flag() (bool, error) {
	v, err := r.u(1)
	return v == 1, err
}

func (r *bitReader) ue() (uint, error) {
	v, err := r.g.ReadExponentialGolombCode()
	if err != nil {
		return 0, xerrors.Errorf("read ue(v) at bit %d: %w", r.pos, err)
	}
	r.pos += 2*(mathbits.Len(v+1)-1) + 1
	return v, nil
}

func (r *bitReader) se() (int, error) {
	v, err := r.ue()
	if err != nil {
		return 0, err
	}
	if v&1 == 1 {
		return int(v+1) / 2, nil
	}
	return -int(v / 2), nil
}

func (r *bitReader) align() error {
	if n := r.pos % 8; n != 0 {
		_, err := r.u(8 - n)
		return err
	}
	return nil
}

// bytes copies len(dst) byte-aligned bytes into dst.
func (r *bitReader) bytes(dst []byte) error {
	if r.pos%8 != 0 {
		return xerrors.Errorf("unaligned byte read at bit %d", r.pos)
	}
	off := r.pos / 8
	if off+len(dst) > len(r.rbsp) {
		return xerrors.Errorf("read %d bytes at offset %d: %w", len(dst), off, io.ErrUnexpectedEOF)
	}
	copy(dst, r.rbsp[off:])
	r.pos += 8 * len(dst)
	// The Golomb reader holds no partial byte when aligned, so it can be
	// restarted at the new offset.
	r.g = &bits.GolombBitReader{R: bytes.NewReader(r.rbsp[r.pos/8:])}
	return nil
}
