package h264

import (
	"fmt"

	"github.com/nareix/joy4/codec/h264parser"
	"golang.org/x/xerrors"
)

// Constrained baseline, level 3.1.
const (
	ProfileBaseline   = 66
	ConstraintFlags   = 0xe0
	Level31           = 31
	log2MaxFrameNum   = 4
	mbSize            = 16
	pocTypeNoLsb      = 2
	mbTypeIPCM        = 25
	sliceTypeIAll     = 7
	sliceTypeI        = 2
	disableDeblocking = 1
)

// SPS describes the parts of a sequence parameter set the decoder needs.
type SPS struct {
	h264parser.SPSInfo

	Log2MaxFrameNum uint
	PocType         uint
	Log2MaxPocLsb   uint
	FrameMbsOnly    bool

	constraints uint
}

// ProfileLevelID returns the SDP profile-level-id (e.g. "42e01f").
func (s *SPS) ProfileLevelID() string {
	return fmt.Sprintf("%02x%02x%02x", s.ProfileIdc, s.constraints, s.LevelIdc)
}

func (s *SPS) mbCount() int {
	return int(s.MbWidth * s.MbHeight)
}

// ProfileLevelID formats the profile-level-id of an SPS NAL unit.
func ProfileLevelID(nalu NALU) (string, error) {
	sps, err := ParseSPS(nalu)
	if err != nil {
		return "", err
	}
	return sps.ProfileLevelID(), nil
}

// writeSPS returns an SPS NAL unit for a width x height 4:2:0 progressive
// stream. Dimensions that are not macroblock multiples are cropped.
func writeSPS(width, height int) NALU {
	mbw := (width + mbSize - 1) / mbSize
	mbh := (height + mbSize - 1) / mbSize

	var w bitWriter
	w.writeBits(ProfileBaseline, 8)
	w.writeBits(ConstraintFlags, 8)
	w.writeBits(Level31, 8)
	w.writeUE(0) // seq_parameter_set_id
	w.writeUE(log2MaxFrameNum - 4)
	w.writeUE(pocTypeNoLsb)
	w.writeUE(1) // max_num_ref_frames
	w.writeBit(0)
	w.writeUE(uint32(mbw - 1))
	w.writeUE(uint32(mbh - 1))
	w.writeBit(1) // frame_mbs_only_flag
	w.writeBit(1) // direct_8x8_inference_flag

	// Crop units are 2 luma samples in each direction for 4:2:0 frames.
	cropRight := (mbw*mbSize - width) / 2
	cropBottom := (mbh*mbSize - height) / 2
	if cropRight > 0 || cropBottom > 0 {
		w.writeBit(1)
		w.writeUE(0)
		w.writeUE(uint32(cropRight))
		w.writeUE(0)
		w.writeUE(uint32(cropBottom))
	} else {
		w.writeBit(0)
	}
	w.writeBit(0) // vui_parameters_present_flag

	return makeNALU(NALUTypeSPS, w.rbspTrailingBits())
}

func writePPS() NALU {
	var w bitWriter
	w.writeUE(0)  // pic_parameter_set_id
	w.writeUE(0)  // seq_parameter_set_id
	w.writeBit(0) // entropy_coding_mode_flag (CAVLC)
	w.writeBit(0) // bottom_field_pic_order_in_frame_present_flag
	w.writeUE(0)  // num_slice_groups_minus1
	w.writeUE(0)  // num_ref_idx_l0_default_active_minus1
	w.writeUE(0)  // num_ref_idx_l1_default_active_minus1
	w.writeBit(0) // weighted_pred_flag
	w.writeBits(0, 2)
	w.writeSE(0) // pic_init_qp_minus26
	w.writeSE(0) // pic_init_qs_minus26
	w.writeSE(0) // chroma_qp_index_offset
	w.writeBit(1) // deblocking_filter_control_present_flag
	w.writeBit(0) // constrained_intra_pred_flag
	w.writeBit(0) // redundant_pic_cnt_present_flag
	return makeNALU(NALUTypePPS, w.rbspTrailingBits())
}

func makeNALU(typ byte, rbsp []byte) NALU {
	nalu := make(NALU, 0, len(rbsp)+len(rbsp)/64+2)
	nalu = append(nalu, naluHeader(naluRefIdcHigh, typ))
	return append(nalu, escapeRBSP(rbsp)...)
}

// ParseSPS parses an SPS NAL unit. Geometry comes from joy4's parser; the
// fields needed to read slice headers are decoded here.
func ParseSPS(nalu NALU) (*SPS, error) {
	if len(nalu) < 4 || nalu.Type() != NALUTypeSPS {
		return nil, xerrors.New("not an SPS")
	}
	rbsp := unescapeRBSP(nalu)

	info, err := h264parser.ParseSPS(rbsp)
	if err != nil {
		return nil, xerrors.Errorf("parse SPS: %w", err)
	}
	sps := &SPS{SPSInfo: info, constraints: uint(rbsp[2])}

	r := newBitReader(rbsp[naluHeaderLength:])
	if _, err := r.u(24); err != nil {
		return nil, err
	}
	if _, err := r.ue(); err != nil {
		return nil, err
	}
	switch sps.ProfileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128:
		chroma, err := r.ue()
		if err != nil {
			return nil, err
		}
		if chroma == 3 {
			if _, err := r.u(1); err != nil {
				return nil, err
			}
		}
		// bit_depth_luma, bit_depth_chroma
		for i := 0; i < 2; i++ {
			if _, err := r.ue(); err != nil {
				return nil, err
			}
		}
		if _, err := r.u(1); err != nil {
			return nil, err
		}
		if scaling, err := r.flag(); err != nil {
			return nil, err
		} else if scaling {
			return nil, xerrors.Errorf("profile %d: scaling matrices: %w", sps.ProfileIdc, ErrUnsupported)
		}
	}

	v, err := r.ue()
	if err != nil {
		return nil, err
	}
	sps.Log2MaxFrameNum = v + 4
	if sps.PocType, err = r.ue(); err != nil {
		return nil, err
	}
	switch sps.PocType {
	case 0:
		if v, err = r.ue(); err != nil {
			return nil, err
		}
		sps.Log2MaxPocLsb = v + 4
	case 1:
		return nil, xerrors.Errorf("pic_order_cnt_type 1: %w", ErrUnsupported)
	}

	// max_num_ref_frames, gaps_in_frame_num_value_allowed_flag, width, height
	if _, err := r.ue(); err != nil {
		return nil, err
	}
	if _, err := r.u(1); err != nil {
		return nil, err
	}
	for i := 0; i < 2; i++ {
		if _, err := r.ue(); err != nil {
			return nil, err
		}
	}
	if sps.FrameMbsOnly, err = r.flag(); err != nil {
		return nil, err
	}
	if !sps.FrameMbsOnly {
		return nil, xerrors.Errorf("interlaced: %w", ErrUnsupported)
	}
	return sps, nil
}
