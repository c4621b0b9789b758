package v4l2

type Config struct {
	Width  int // Video width in pixels
	Height int // Video height in pixels

	HFlip bool // Flip video horizontally
	VFlip bool // Flip video vertically

	// Number of kernel driver buffers. Defaults to 2.
	Buffers int
}
