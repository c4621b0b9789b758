package gles

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadRunsInOrder(t *testing.T) {
	th := NewThread("test")
	defer th.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, th.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, th.Invoke(func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestThreadInvoke(t *testing.T) {
	th := NewThread("test")
	assert.False(t, th.IsCurrent())

	boom := errors.New("boom")
	err := th.Invoke(func() error {
		if !th.IsCurrent() && currentThreadID() != 0 {
			return errors.New("not on thread")
		}
		// Nested calls run inline instead of deadlocking.
		return th.Invoke(func() error { return boom })
	})
	assert.Equal(t, boom, err)

	th.Stop()
	th.Stop()
	assert.Equal(t, ErrThreadStopped, th.Invoke(func() error { return nil }))
	assert.False(t, th.Post(func() {}))
}

func TestThreadStopDrainsQueue(t *testing.T) {
	th := NewThread("test")
	ran := 0
	for i := 0; i < 10; i++ {
		th.Post(func() { ran++ })
	}
	th.Stop()
	assert.Equal(t, 10, ran)
}

func TestDeclarations(t *testing.T) {
	src := &ProgramSource{
		Vertex: `
attribute vec4 in_pos;
attribute  highp vec4 in_tc;
uniform mat4 tex_mat;
void main() {}`,
		Fragment: `
#extension GL_OES_EGL_image_external : require
precision mediump float;
uniform samplerExternalOES tex;
uniform vec4 coeffs;
uniform mat4 tex_mat;
void main() {}`,
	}
	assert.Equal(t, []Declaration{
		{"attribute", "vec4", "in_pos"},
		{"attribute", "vec4", "in_tc"},
		{"uniform", "mat4", "tex_mat"},
		{"uniform", "samplerExternalOES", "tex"},
		{"uniform", "vec4", "coeffs"},
	}, src.Declarations())

	plain := WithoutExternalImages(src.Fragment)
	assert.NotContains(t, plain, "GL_OES_EGL_image_external")
	assert.NotContains(t, plain, "samplerExternalOES")
	assert.Contains(t, plain, "uniform sampler2D tex;")
}

func TestOpenUnknownPlatform(t *testing.T) {
	_, err := OpenPlatform("no-such-platform")
	assert.True(t, errors.Is(err, ErrPlatformNotFound))
}

func TestCurrentThread(t *testing.T) {
	if currentThreadID() == 0 {
		t.Skip("thread ids unavailable")
	}
	th := NewThread("test")
	defer th.Stop()

	assert.Nil(t, CurrentThread())
	var got *Thread
	require.NoError(t, th.Invoke(func() error {
		got = CurrentThread()
		return nil
	}))
	assert.Same(t, th, got)
}
