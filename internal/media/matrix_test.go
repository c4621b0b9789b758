package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertPoint(t *testing.T, m Matrix, x, y, wantX, wantY float32) {
	t.Helper()
	gx, gy := m.MapPoint(x, y)
	assert.InDelta(t, wantX, gx, 1e-5)
	assert.InDelta(t, wantY, gy, 1e-5)
}

func TestMatrixComposition(t *testing.T) {
	m := Identity().PreTranslate(1, 0).PreScale(2, 2)
	// Scale applies first, then translate.
	assertPoint(t, m, 1, 1, 3, 2)

	m = Identity().PostTranslate(1, 0).PostScale(2, 2)
	assertPoint(t, m, 1, 1, 4, 2)

	a := Identity().PreRotate(90)
	b := Identity().PreScale(1, -1)
	assert.Equal(t, a.PreConcat(b), b.PostConcat(a))
}

func TestRotationMatrix(t *testing.T) {
	m := RotationMatrix(Rotation90)
	assertPoint(t, m, 0.5, 0.5, 0.5, 0.5)
	assertPoint(t, m, 1, 0.5, 0.5, 1)
	assertPoint(t, RotationMatrix(Rotation180), 0, 0, 1, 1)
	assert.Equal(t, Identity(), RotationMatrix(Rotation90).PreConcat(RotationMatrix(Rotation270)))
}

func TestFlipVertical(t *testing.T) {
	m := FlipVertical()
	assertPoint(t, m, 0.25, 0, 0.25, 1)
	assert.True(t, m.PreConcat(m).IsIdentity())
}

func TestGLRoundTrip(t *testing.T) {
	m := Identity().PreTranslate(0.25, 0.5).PreScale(0.5, -1).PreRotate(270)
	assert.Equal(t, m, MatrixFromGL(m.ToGL()))

	g := Identity().PreTranslate(3, 4).ToGL()
	// Translation lives in the last column of a column-major matrix.
	assert.Equal(t, float32(3), g[12])
	assert.Equal(t, float32(4), g[13])
}

func TestCropMatrix(t *testing.T) {
	// Right half of a 100x50 buffer, bottom 40 rows.
	m := CropMatrix(50, 10, 50, 40, 100, 50)
	assertPoint(t, m, 0, 0, 0.5, 0)
	assertPoint(t, m, 1, 1, 1, 0.8)
}
