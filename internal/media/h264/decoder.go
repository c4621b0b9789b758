package h264

import (
	"golang.org/x/xerrors"
)

type pps struct {
	deblockingControl bool
	redundantPicCnt   bool
}

// Decoder decodes streams produced by Encoder, and any other constrained
// baseline stream that codes every macroblock as I_PCM.
type Decoder struct {
	sps *SPS
	pps *pps
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// SPS returns the active sequence parameter set, or nil before the first one
// is seen.
func (d *Decoder) SPS() *SPS {
	return d.sps
}

// Decode consumes one Annex B access unit. It returns (nil, nil) when the
// unit carries no picture, e.g. parameter sets only.
func (d *Decoder) Decode(au []byte) (*Picture, error) {
	var pic *Picture
	for _, nalu := range SplitAnnexB(au) {
		if nalu.ForbiddenBit() != 0 {
			return nil, xerrors.New("h264: forbidden_zero_bit set")
		}
		switch nalu.Type() {
		case NALUTypeSPS:
			sps, err := ParseSPS(nalu)
			if err != nil {
				return nil, err
			}
			d.sps = sps
		case NALUTypePPS:
			p, err := parsePPS(nalu)
			if err != nil {
				return nil, err
			}
			d.pps = p
		case NALUTypeSlice, NALUTypeIDR:
			if d.sps == nil || d.pps == nil {
				return nil, ErrNoParameterSets
			}
			p, err := d.decodeSlice(nalu)
			if err != nil {
				return nil, err
			}
			pic = p
		}
	}
	return pic, nil
}

func parsePPS(nalu NALU) (*pps, error) {
	r := newBitReader(unescapeRBSP(nalu[naluHeaderLength:]))
	// pic_parameter_set_id, seq_parameter_set_id
	for i := 0; i < 2; i++ {
		if _, err := r.ue(); err != nil {
			return nil, err
		}
	}
	cabac, err := r.flag()
	if err != nil {
		return nil, err
	}
	if cabac {
		return nil, xerrors.Errorf("CABAC: %w", ErrUnsupported)
	}
	if _, err := r.u(1); err != nil {
		return nil, err
	}
	groups, err := r.ue()
	if err != nil {
		return nil, err
	}
	if groups != 0 {
		return nil, xerrors.Errorf("slice groups: %w", ErrUnsupported)
	}
	for i := 0; i < 2; i++ {
		if _, err := r.ue(); err != nil {
			return nil, err
		}
	}
	// weighted_pred_flag, weighted_bipred_idc
	if _, err := r.u(3); err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		if _, err := r.se(); err != nil {
			return nil, err
		}
	}
	p := &pps{}
	if p.deblockingControl, err = r.flag(); err != nil {
		return nil, err
	}
	if _, err := r.u(1); err != nil {
		return nil, err
	}
	if p.redundantPicCnt, err = r.flag(); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Decoder) decodeSlice(nalu NALU) (*Picture, error) {
	sps := d.sps
	idr := nalu.Type() == NALUTypeIDR
	r := newBitReader(unescapeRBSP(nalu[naluHeaderLength:]))

	firstMB, err := r.ue()
	if err != nil {
		return nil, err
	}
	if firstMB != 0 {
		return nil, xerrors.Errorf("multiple slices per picture: %w", ErrUnsupported)
	}
	sliceType, err := r.ue()
	if err != nil {
		return nil, err
	}
	if sliceType != sliceTypeI && sliceType != sliceTypeIAll {
		return nil, xerrors.Errorf("slice_type %d: %w", sliceType, ErrUnsupported)
	}
	if _, err := r.ue(); err != nil {
		return nil, err
	}
	frameNum, err := r.u(int(sps.Log2MaxFrameNum))
	if err != nil {
		return nil, err
	}
	if idr {
		if _, err := r.ue(); err != nil {
			return nil, err
		}
	}
	if sps.PocType == 0 {
		if _, err := r.u(int(sps.Log2MaxPocLsb)); err != nil {
			return nil, err
		}
	}
	if d.pps.redundantPicCnt {
		if _, err := r.ue(); err != nil {
			return nil, err
		}
	}
	if nalu.NRI() != 0 {
		if idr {
			if _, err := r.u(2); err != nil {
				return nil, err
			}
		} else if adaptive, err := r.flag(); err != nil {
			return nil, err
		} else if adaptive {
			return nil, xerrors.Errorf("memory management operations: %w", ErrUnsupported)
		}
	}
	if _, err := r.se(); err != nil {
		return nil, err
	}
	if d.pps.deblockingControl {
		disable, err := r.ue()
		if err != nil {
			return nil, err
		}
		if disable != 1 {
			for i := 0; i < 2; i++ {
				if _, err := r.se(); err != nil {
					return nil, err
				}
			}
		}
	}

	mbw := int(sps.MbWidth)
	pic := NewPicture(int(sps.Width), int(sps.Height))
	pic.IDR = idr
	pic.FrameNum = frameNum
	cw, ch := pic.chromaSize()

	var luma [mbSize * mbSize]byte
	var cb, cr [64]byte
	for i := 0; i < sps.mbCount(); i++ {
		mbType, err := r.ue()
		if err != nil {
			return nil, err
		}
		if mbType != mbTypeIPCM {
			return nil, xerrors.Errorf("mb_type %d: %w", mbType, ErrUnsupported)
		}
		if err := r.align(); err != nil {
			return nil, err
		}
		for _, dst := range [][]byte{luma[:], cb[:], cr[:]} {
			if err := r.bytes(dst); err != nil {
				return nil, err
			}
		}
		x, y := (i%mbw)*mbSize, (i/mbw)*mbSize
		storeBlock(pic.Y, pic.StrideY, pic.Width, pic.Height, x, y, mbSize, luma[:])
		storeBlock(pic.Cb, pic.StrideC, cw, ch, x/2, y/2, 8, cb[:])
		storeBlock(pic.Cr, pic.StrideC, cw, ch, x/2, y/2, 8, cr[:])
	}
	return pic, nil
}
