package h264

import (
	"golang.org/x/xerrors"
)

// Encoder produces a constrained baseline stream made of I_PCM macroblocks.
// The output is lossless and every picture is intra coded; non-IDR pictures
// are regular reference I slices.
//
// Odd dimensions are rounded up to the next even value, the smallest crop
// unit a 4:2:0 stream can express.
type Encoder struct {
	width, height int
	mbWidth       int
	mbHeight      int

	sps, pps NALU

	frameNum uint
	idrPicID uint
	started  bool
}

func NewEncoder(width, height int) (*Encoder, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("h264: invalid size %dx%d", width, height)
	}
	return &Encoder{
		width:    width,
		height:   height,
		mbWidth:  (width + mbSize - 1) / mbSize,
		mbHeight: (height + mbSize - 1) / mbSize,
		sps:      writeSPS(width, height),
		pps:      writePPS(),
	}, nil
}

func (e *Encoder) Width() int  { return e.width }
func (e *Encoder) Height() int { return e.height }

// ParameterSets returns the SPS and PPS as an Annex B byte stream.
func (e *Encoder) ParameterSets() []byte {
	return AppendAnnexB(nil, e.sps, e.pps)
}

// EncodePicture encodes one picture as a single slice, without parameter
// sets. The first picture is always an IDR picture.
func (e *Encoder) EncodePicture(p *Picture, idr bool) ([]byte, error) {
	if p.Width != e.width || p.Height != e.height {
		return nil, xerrors.Errorf("h264: picture %dx%d does not match encoder %dx%d",
			p.Width, p.Height, e.width, e.height)
	}
	if !e.started {
		idr = true
		e.started = true
	}
	if idr {
		e.frameNum = 0
	}

	var w bitWriter
	w.buf = make([]byte, 0, e.mbWidth*e.mbHeight*(384+2)+16)
	w.writeUE(0) // first_mb_in_slice
	w.writeUE(sliceTypeIAll)
	w.writeUE(0) // pic_parameter_set_id
	w.writeBits(uint64(e.frameNum), log2MaxFrameNum)
	if idr {
		w.writeUE(uint32(e.idrPicID))
		e.idrPicID = (e.idrPicID + 1) % 65536
		w.writeBit(0) // no_output_of_prior_pics_flag
		w.writeBit(0) // long_term_reference_flag
	} else {
		w.writeBit(0) // adaptive_ref_pic_marking_mode_flag
	}
	w.writeSE(0) // slice_qp_delta
	w.writeUE(disableDeblocking)

	var luma [mbSize * mbSize]byte
	var cb, cr [64]byte
	for mby := 0; mby < e.mbHeight; mby++ {
		for mbx := 0; mbx < e.mbWidth; mbx++ {
			w.writeUE(mbTypeIPCM)
			w.alignZero()
			p.lumaMB(luma[:], mbx, mby)
			p.chromaMB(cb[:], cr[:], mbx, mby)
			w.writeBytes(luma[:])
			w.writeBytes(cb[:])
			w.writeBytes(cr[:])
		}
	}

	typ := byte(NALUTypeSlice)
	if idr {
		typ = NALUTypeIDR
	}
	e.frameNum = (e.frameNum + 1) % (1 << log2MaxFrameNum)
	return AppendAnnexB(nil, makeNALU(typ, w.rbspTrailingBits())), nil
}

// Encode encodes a picture and prepends the parameter sets to IDR pictures,
// producing an access unit that can be decoded without prior state.
func (e *Encoder) Encode(p *Picture, idr bool) (au []byte, key bool, err error) {
	key = idr || !e.started
	slice, err := e.EncodePicture(p, idr)
	if err != nil {
		return nil, false, err
	}
	if key {
		return append(e.ParameterSets(), slice...), true, nil
	}
	return slice, false, nil
}
