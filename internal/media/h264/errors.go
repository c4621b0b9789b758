package h264

import "golang.org/x/xerrors"

var (
	// ErrUnsupported is returned for valid streams that use coding tools
	// outside the I_PCM subset this package decodes.
	ErrUnsupported = xerrors.New("h264: unsupported bitstream feature")

	// ErrNoParameterSets is returned when a slice arrives before its SPS/PPS.
	ErrNoParameterSets = xerrors.New("h264: slice without parameter sets")
)
