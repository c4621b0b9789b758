package gles

import (
	"regexp"
)

// Sampler reads a bound texture at normalized coordinates.
type Sampler interface {
	Sample(s, t float32) [4]float32
}

// ShaderInputs exposes the uniform state of a draw to software stages.
type ShaderInputs interface {
	Uniform(name string) []float32
	Sampler(name string) Sampler
}

// VertexStage computes a clip-space position and the varyings for one
// vertex. attrib returns the named attribute, padded to vec4 as GL does
// (missing components are 0, 0, 0, 1).
type VertexStage func(in ShaderInputs, attrib func(name string) [4]float32) (position [4]float32, varyings []float32)

// FragmentStage prepares a per-fragment function for one draw.
type FragmentStage func(in ShaderInputs) func(varyings []float32) [4]float32

// ProgramSource is a GLSL ES 1.00 program with equivalent Go stages for
// backends that rasterize in software.
type ProgramSource struct {
	Vertex   string
	Fragment string

	VertexStage   VertexStage
	FragmentStage FragmentStage
}

// Declaration is an attribute or uniform parsed from GLSL source.
type Declaration struct {
	Qualifier string
	Type      string
	Name      string
}

var declRe = regexp.MustCompile(`(?m)^\s*(attribute|uniform)\s+(?:(?:lowp|mediump|highp)\s+)?(\w+)\s+(\w+)\s*;`)

// Declarations lists the attributes and uniforms of both stages in source
// order, without duplicates.
func (p *ProgramSource) Declarations() []Declaration {
	var decls []Declaration
	seen := map[string]bool{}
	for _, src := range []string{p.Vertex, p.Fragment} {
		for _, m := range declRe.FindAllStringSubmatch(src, -1) {
			if seen[m[3]] {
				continue
			}
			seen[m[3]] = true
			decls = append(decls, Declaration{Qualifier: m[1], Type: m[2], Name: m[3]})
		}
	}
	return decls
}

var (
	oesExtensionRe = regexp.MustCompile(`(?m)^\s*#extension\s+GL_OES_EGL_image_external\s*:\s*\w+\s*$`)
	oesSamplerRe   = regexp.MustCompile(`\bsamplerExternalOES\b`)
)

// WithoutExternalImages rewrites a fragment shader that samples external
// OES textures to use sampler2D, for contexts lacking the extension where
// external images are backed by plain 2D textures.
func WithoutExternalImages(fragment string) string {
	fragment = oesExtensionRe.ReplaceAllString(fragment, "")
	return oesSamplerRe.ReplaceAllString(fragment, "sampler2D")
}
