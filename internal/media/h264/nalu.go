package h264

// NAL unit types. See ITU-T H.264 Table 7-1.
const (
	NALUTypeSlice    = 1
	NALUTypeIDR      = 5
	NALUTypeSEI      = 6
	NALUTypeSPS      = 7
	NALUTypePPS      = 8
	NALUTypeAUD      = 9
	NALUTypeSTAPA    = 24
	NALUTypeFUA      = 28
	naluRefIdcHigh   = 3
	naluHeaderLength = 1
)

type NALU []byte

func (nalu NALU) ForbiddenBit() byte {
	return nalu[0] & 0x80 >> 7
}

func (nalu NALU) NRI() byte {
	return nalu[0] & 0x60 >> 5
}

func (nalu NALU) Type() byte {
	return nalu[0] & 0x1f
}

// IsParameterSet reports whether the unit is an SPS or PPS.
func (nalu NALU) IsParameterSet() bool {
	if len(nalu) == 0 {
		return false
	}
	t := nalu.Type()
	return t == NALUTypeSPS || t == NALUTypePPS
}

func naluHeader(refIdc, typ byte) byte {
	return refIdc<<5 | typ&0x1f
}
