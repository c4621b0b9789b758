package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtraInfoMatch(t *testing.T) {
	var q ExtraInfoQueue
	for i := int64(1); i <= 5; i++ {
		q.Push(FrameExtraInfo{PTS: i * 100, RTPTimestamp: uint32(i), Rotation: Rotation90})
	}

	info, ok := q.Match(100)
	assert.True(t, ok)
	assert.EqualValues(t, 1, info.RTPTimestamp)
	assert.Equal(t, Rotation90, info.Rotation)

	// The codec dropped 200 and 300.
	info, ok = q.Match(400)
	assert.True(t, ok)
	assert.EqualValues(t, 4, info.RTPTimestamp)
	assert.Equal(t, 1, q.Len())

	// Unknown timestamp drops nothing later than itself.
	_, ok = q.Match(450)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())

	q.Clear()
	assert.Equal(t, 0, q.Len())
}
