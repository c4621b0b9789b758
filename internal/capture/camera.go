package capture

// Camera is a capture source fed by a camera that renders into the
// surface identified by SurfaceID. Frames keep the camera's texture
// transform and carry the configured sensor rotation.
type Camera struct {
	*surfaceSource
}

func NewCamera(opts Options) *Camera {
	opts.setDefaults("camera")
	return &Camera{newSurfaceSource(opts)}
}
