package h264

// Picture is an 8-bit 4:2:0 planar image. Chroma planes are
// (Width+1)/2 x (Height+1)/2.
type Picture struct {
	Width, Height int

	Y, Cb, Cr        []byte
	StrideY, StrideC int

	// Set by the decoder.
	IDR      bool
	FrameNum uint
}

// NewPicture allocates a picture with tightly packed planes.
func NewPicture(width, height int) *Picture {
	cw, ch := (width+1)/2, (height+1)/2
	return &Picture{
		Width:   width,
		Height:  height,
		Y:       make([]byte, width*height),
		Cb:      make([]byte, cw*ch),
		Cr:      make([]byte, cw*ch),
		StrideY: width,
		StrideC: cw,
	}
}

func (p *Picture) chromaSize() (int, int) {
	return (p.Width + 1) / 2, (p.Height + 1) / 2
}

// lumaMB copies the 16x16 luma block at (mbx, mby) into dst, replicating
// edge samples past the picture bounds.
func (p *Picture) lumaMB(dst []byte, mbx, mby int) {
	copyBlock(dst, p.Y, p.StrideY, p.Width, p.Height, mbx*mbSize, mby*mbSize, mbSize)
}

func (p *Picture) chromaMB(dstCb, dstCr []byte, mbx, mby int) {
	cw, ch := p.chromaSize()
	copyBlock(dstCb, p.Cb, p.StrideC, cw, ch, mbx*8, mby*8, 8)
	copyBlock(dstCr, p.Cr, p.StrideC, cw, ch, mbx*8, mby*8, 8)
}

func copyBlock(dst, src []byte, stride, w, h, x0, y0, n int) {
	for j := 0; j < n; j++ {
		y := min(y0+j, h-1)
		row := src[y*stride:]
		for i := 0; i < n; i++ {
			dst[j*n+i] = row[min(x0+i, w-1)]
		}
	}
}

// storeBlock writes an n x n block back, discarding samples outside w x h.
func storeBlock(dst []byte, stride, w, h, x0, y0, n int, src []byte) {
	for j := 0; j < n && y0+j < h; j++ {
		cols := min(n, w-x0)
		if cols <= 0 {
			return
		}
		copy(dst[(y0+j)*stride+x0:], src[j*n:j*n+cols])
	}
}
