package gles_test

import (
	"testing"

	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/gles/softgl"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEnv(t *testing.T) {
	gles.SetDefaultPlatform(softgl.PlatformName)
	defer gles.ReleaseDefaultEnv()

	env, err := gles.DefaultEnv()
	require.NoError(t, err)
	again, err := gles.DefaultEnv()
	require.NoError(t, err)
	assert.Same(t, env, again)
	assert.True(t, env.HasSurface())

	child, err := gles.NewSharedEnv(gles.ConfigPlain)
	require.NoError(t, err)
	defer child.Release()
	assert.Equal(t, env.Platform(), child.Platform())
	assert.False(t, child.HasSurface())
	assert.Equal(t, gles.ErrNoSurface, child.SwapBuffers(0))

	gles.ReleaseDefaultEnv()
	fresh, err := gles.DefaultEnv()
	require.NoError(t, err)
	assert.NotSame(t, env, fresh)
}

func TestEnvSurfaces(t *testing.T) {
	p, err := gles.OpenPlatform(softgl.PlatformName)
	require.NoError(t, err)
	th := gles.NewThread("env")
	defer th.Stop()

	win := native.NewBufferQueue(8, 6, 2, native.FormatRGBA8888)
	var w, h int
	err = th.Invoke(func() error {
		env, err := gles.NewEnv(p, nil, gles.ConfigRecordable)
		if err != nil {
			return err
		}
		defer env.Release()

		if err := env.CreateWindowSurface(win); err != nil {
			return err
		}
		if env.CreatePbufferSurface(1, 1) == nil {
			return errors.New("second surface accepted")
		}
		if err := env.MakeCurrent(); err != nil {
			return err
		}
		w, h = env.SurfaceSize()

		gl := env.GL()
		gl.ClearColor(0, 1, 0, 1)
		gl.Clear(gles.COLOR_BUFFER_BIT)
		if err := env.SwapBuffers(gles.NoPresentationTime); err != nil {
			return err
		}
		env.ReleaseSurface()
		if env.HasSurface() {
			return errors.New("surface not released")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 8, w)
	assert.Equal(t, 6, h)

	b := win.Acquire()
	require.NotNil(t, b)
	assert.Equal(t, []byte{0, 255, 0, 255}, b.Pixels[:4])
	win.Release(b)
}

func TestNativeImageLatchesNewest(t *testing.T) {
	p, err := gles.OpenPlatform(softgl.PlatformName)
	require.NoError(t, err)
	env, err := gles.NewEnv(p, nil, gles.ConfigPixelBuffer)
	require.NoError(t, err)
	defer env.Release()
	require.NoError(t, env.CreatePbufferSurface(1, 1))
	require.NoError(t, env.MakeCurrent())
	gl := env.GL()

	tex := gl.GenTexture()
	img := gles.NewNativeImage(gl, tex, 4, 2)
	defer img.Release()
	available := 0
	img.SetOnFrameAvailable(func() { available++ })

	ok, err := img.UpdateSurfaceImage()
	require.NoError(t, err)
	assert.False(t, ok)

	gen := native.NewGenerator(img.Window(), 30, func() int64 { return 1000 })
	require.NoError(t, gen.Next())
	require.NoError(t, gen.Next())
	assert.Equal(t, 2, available)

	ok, err = img.UpdateSurfaceImage()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, img.Timestamp(), int64(1000))
	assert.Equal(t, 0, img.Queue().Pending())

	m := img.TransformMatrix()
	assert.Equal(t, float32(-1), m[5])
	assert.Equal(t, float32(1), m[13])

	img.Release()
	_, err = img.UpdateSurfaceImage()
	assert.Error(t, err)
}
