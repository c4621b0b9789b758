package media

import (
	"math"
)

// Matrix is a 3x3 affine transform over normalized texture coordinates,
// stored row-major:
//
//	| m[0] m[1] m[2] |
//	| m[3] m[4] m[5] |
//	| m[6] m[7] m[8] |
//
// A point (x, y) maps to (m[0]x + m[1]y + m[2], m[3]x + m[4]y + m[5]).
// Operations named Pre* apply before the existing transform when mapping
// points (m = m * op); Post* apply after it (m = op * m).
type Matrix [9]float32

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

func (m Matrix) IsIdentity() bool {
	return m == Identity()
}

func mul(a, b Matrix) Matrix {
	var c Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float32
			for k := 0; k < 3; k++ {
				s += a[3*i+k] * b[3*k+j]
			}
			c[3*i+j] = s
		}
	}
	return c
}

func (m Matrix) PreConcat(o Matrix) Matrix  { return mul(m, o) }
func (m Matrix) PostConcat(o Matrix) Matrix { return mul(o, m) }

func translate(dx, dy float32) Matrix {
	return Matrix{1, 0, dx, 0, 1, dy, 0, 0, 1}
}

func scale(sx, sy float32) Matrix {
	return Matrix{sx, 0, 0, 0, sy, 0, 0, 0, 1}
}

func rotate(degrees float32) Matrix {
	// Right angles are exact.
	sin, cos := float32(math.Sin(float64(degrees)*math.Pi/180)), float32(math.Cos(float64(degrees)*math.Pi/180))
	if d := int(degrees); float32(d) == degrees {
		switch ((d % 360) + 360) % 360 {
		case 0:
			sin, cos = 0, 1
		case 90:
			sin, cos = 1, 0
		case 180:
			sin, cos = 0, -1
		case 270:
			sin, cos = -1, 0
		}
	}
	return Matrix{cos, -sin, 0, sin, cos, 0, 0, 0, 1}
}

func (m Matrix) PreTranslate(dx, dy float32) Matrix  { return mul(m, translate(dx, dy)) }
func (m Matrix) PostTranslate(dx, dy float32) Matrix { return mul(translate(dx, dy), m) }
func (m Matrix) PreScale(sx, sy float32) Matrix      { return mul(m, scale(sx, sy)) }
func (m Matrix) PostScale(sx, sy float32) Matrix     { return mul(scale(sx, sy), m) }
func (m Matrix) PreRotate(degrees float32) Matrix    { return mul(m, rotate(degrees)) }
func (m Matrix) PostRotate(degrees float32) Matrix   { return mul(rotate(degrees), m) }

// MapPoint applies the transform to (x, y).
func (m Matrix) MapPoint(x, y float32) (float32, float32) {
	w := m[6]*x + m[7]*y + m[8]
	if w == 0 {
		w = 1
	}
	return (m[0]*x + m[1]*y + m[2]) / w, (m[3]*x + m[4]*y + m[5]) / w
}

// ToGL expands the matrix to a column-major 4x4 GL matrix, leaving z
// untouched.
func (m Matrix) ToGL() [16]float32 {
	return [16]float32{
		m[0], m[3], 0, m[6],
		m[1], m[4], 0, m[7],
		0, 0, 1, 0,
		m[2], m[5], 0, m[8],
	}
}

// MatrixFromGL drops the z row and column of a column-major 4x4 matrix.
func MatrixFromGL(g [16]float32) Matrix {
	return Matrix{
		g[0], g[4], g[12],
		g[1], g[5], g[13],
		g[3], g[7], g[15],
	}
}

// CropMatrix maps the unit square onto a crop rectangle given in buffer
// pixels (origin top-left) of a width x height buffer whose texture
// coordinates have their origin bottom-left.
func CropMatrix(cropX, cropY, cropWidth, cropHeight, width, height int) Matrix {
	fromBottom := height - (cropY + cropHeight)
	return Identity().
		PreTranslate(float32(cropX)/float32(width), float32(fromBottom)/float32(height)).
		PreScale(float32(cropWidth)/float32(width), float32(cropHeight)/float32(height))
}

// RotationMatrix rotates about the texture centre.
func RotationMatrix(r Rotation) Matrix {
	return Identity().PreTranslate(0.5, 0.5).PreRotate(float32(r)).PreTranslate(-0.5, -0.5)
}

// FlipVertical mirrors about y = 0.5.
func FlipVertical() Matrix {
	return Identity().PreTranslate(0.5, 0.5).PreScale(1, -1).PreTranslate(-0.5, -0.5)
}
