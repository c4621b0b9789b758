package codec

import (
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// H.264 SDP parameters (RFC 6184).
const (
	fmtpProfileLevelID    = "profile-level-id"
	fmtpPacketizationMode = "packetization-mode"
	fmtpLevelAsymmetry    = "level-asymmetry-allowed"

	// Assumed when an offer omits profile-level-id.
	defaultProfileLevelID = "42001f"

	videoClockRate = 90000
)

// Format is an SDP video format: a MIME type with its fmtp parameters.
type Format = webrtc.RTPCodecCapability

// H264Format returns the packetization-mode 1 H.264 format for a
// profile-level-id such as "42e01f".
func H264Format(profileLevelID string) Format {
	return Format{
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   videoClockRate,
		SDPFmtpLine: fmtpLevelAsymmetry + "=1;" + fmtpPacketizationMode + "=1;" + fmtpProfileLevelID + "=" + profileLevelID,
	}
}

// ParseFmtp splits an a=fmtp parameter list into keys and values. Keys are
// lower-cased.
func ParseFmtp(line string) map[string]string {
	params := make(map[string]string)
	for _, kv := range strings.Split(line, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		params[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return params
}

func isH264(f Format) bool {
	return strings.EqualFold(f.MimeType, webrtc.MimeTypeH264)
}

// ProfileLevelID returns the format's profile-level-id, lower-cased.
func ProfileLevelID(f Format) string {
	if id, ok := ParseFmtp(f.SDPFmtpLine)[fmtpProfileLevelID]; ok {
		return strings.ToLower(id)
	}
	return defaultProfileLevelID
}

func packetizationMode(f Format) string {
	if m, ok := ParseFmtp(f.SDPFmtpLine)[fmtpPacketizationMode]; ok {
		return m
	}
	return "0"
}

type Profile int

const (
	ProfileConstrainedBaseline Profile = iota
	ProfileBaseline
	ProfileMain
	ProfileConstrainedHigh
	ProfileHigh
)

var profileNames = map[Profile]string{
	ProfileConstrainedBaseline: "constrained-baseline",
	ProfileBaseline:            "baseline",
	ProfileMain:                "main",
	ProfileConstrainedHigh:     "constrained-high",
	ProfileHigh:                "high",
}

func (p Profile) String() string {
	if s, ok := profileNames[p]; ok {
		return s
	}
	return "Profile(" + strconv.Itoa(int(p)) + ")"
}

// ParseProfile maps a profile-level-id to its profile. The level is
// ignored.
func ParseProfile(profileLevelID string) (Profile, error) {
	if len(profileLevelID) != 6 {
		return 0, errors.Errorf("invalid profile-level-id %q", profileLevelID)
	}
	v, err := strconv.ParseUint(profileLevelID[:4], 16, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid profile-level-id %q", profileLevelID)
	}
	idc, iop := byte(v>>8), byte(v)
	const (
		constraintSet1 = 0x40
		constraintSet4 = 0x08
		constraintSet5 = 0x04
	)
	switch idc {
	case 0x42:
		if iop&constraintSet1 != 0 {
			return ProfileConstrainedBaseline, nil
		}
		return ProfileBaseline, nil
	case 0x4d:
		if iop&0x80 != 0 {
			// constraint_set0 on main profile streams is constrained baseline.
			return ProfileConstrainedBaseline, nil
		}
		return ProfileMain, nil
	case 0x64:
		if iop&(constraintSet4|constraintSet5) == constraintSet4|constraintSet5 {
			return ProfileConstrainedHigh, nil
		}
		return ProfileHigh, nil
	case 0x58:
		if iop&0xc0 == 0xc0 {
			return ProfileConstrainedBaseline, nil
		}
	}
	return 0, errors.Errorf("unsupported profile in profile-level-id %q", profileLevelID)
}

// IsHighProfile reports whether the format needs a high-profile encoder.
func IsHighProfile(f Format) bool {
	p, err := ParseProfile(ProfileLevelID(f))
	return err == nil && (p == ProfileHigh || p == ProfileConstrainedHigh)
}

// SameFormat reports whether two formats describe the same codec
// configuration: the same MIME type, and for H.264 the same profile and
// packetization mode. Levels may differ.
func SameFormat(a, b Format) bool {
	if !strings.EqualFold(a.MimeType, b.MimeType) {
		return false
	}
	if !isH264(a) {
		return true
	}
	if packetizationMode(a) != packetizationMode(b) {
		return false
	}
	pa, errA := ParseProfile(ProfileLevelID(a))
	pb, errB := ParseProfile(ProfileLevelID(b))
	if errA != nil || errB != nil {
		return false
	}
	return pa == pb
}

// ContainsFormat reports whether formats has one matching f.
func ContainsFormat(formats []Format, f Format) bool {
	for _, g := range formats {
		if SameFormat(f, g) {
			return true
		}
	}
	return false
}

// UnionFormats appends to a the formats of b it does not already contain.
func UnionFormats(a, b []Format) []Format {
	out := append([]Format(nil), a...)
	for _, f := range b {
		if !ContainsFormat(out, f) {
			out = append(out, f)
		}
	}
	return out
}
