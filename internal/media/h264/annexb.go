package h264

import (
	"bytes"
)

// StartCode is the 4-byte Annex B start code emitted by this package.
var StartCode = []byte{0, 0, 0, 1}

var shortStartCode = []byte{0, 0, 1}

// SplitNALU is a bufio.SplitFunc that splits NAL units on H.264 Annex B start
// codes. The last unit is returned once the input is exhausted.
func SplitNALU(data []byte, atEOF bool) (advance int, nalu []byte, err error) {
	i := bytes.Index(data, shortStartCode)

	switch i {
	case -1:
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		// No start code found. Wait for more data.
		return 0, nil, nil
	case 0:
		// 3-byte start code (0x000001) found at data[0]. Skip these 3 bytes.
		return 3, nil, nil
	case 1:
		if data[0] == 0 {
			// 4-byte start code (0x00000001) found at data[0]. Skip these 4 bytes.
			return 4, nil, nil
		}
	}

	// Next start code found at index i.
	advance = i
	if data[i-1] == 0x00 {
		// 4-byte start code
		nalu = data[0 : i-1]
	} else {
		// 3-byte start code
		nalu = data[0:i]
	}
	return advance, nalu, nil
}

// SplitAnnexB returns the NAL units of an Annex B byte stream. The returned
// slices alias b. Zero-length units are dropped.
func SplitAnnexB(b []byte) []NALU {
	var nalus []NALU
	for len(b) > 0 {
		advance, nalu, _ := SplitNALU(b, true)
		if advance == 0 {
			break
		}
		if len(nalu) > 0 {
			nalus = append(nalus, NALU(nalu))
		}
		b = b[advance:]
	}
	return nalus
}

// AppendAnnexB appends each unit to dst, prefixed by a 4-byte start code.
func AppendAnnexB(dst []byte, nalus ...NALU) []byte {
	for _, nalu := range nalus {
		dst = append(dst, StartCode...)
		dst = append(dst, nalu...)
	}
	return dst
}

// HasStartCodePrefix reports whether b begins with a 3- or 4-byte start code.
func HasStartCodePrefix(b []byte) bool {
	return bytes.HasPrefix(b, StartCode) || bytes.HasPrefix(b, shortStartCode)
}

// ContainsIDR reports whether the Annex B stream carries an IDR slice.
func ContainsIDR(b []byte) bool {
	for _, nalu := range SplitAnnexB(b) {
		if nalu.Type() == NALUTypeIDR {
			return true
		}
	}
	return false
}

// escapeRBSP inserts emulation prevention bytes so that the payload never
// contains 0x000000, 0x000001, 0x000002 or 0x000003.
func escapeRBSP(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64+4)
	zeros := 0
	for _, b := range rbsp {
		if zeros == 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// unescapeRBSP removes emulation prevention bytes.
func unescapeRBSP(ebsp []byte) []byte {
	out := make([]byte, 0, len(ebsp))
	zeros := 0
	for _, b := range ebsp {
		if zeros == 2 && b == 3 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
