package native

import (
	"sync"
	"sync/atomic"
)

// Surfaces are handed across the binding layer as integer ids.
var (
	windows      sync.Map
	nextWindowID atomic.Uint64
)

// RegisterWindow returns a new surface id for w.
func RegisterWindow(w Window) uint64 {
	id := nextWindowID.Add(1)
	windows.Store(id, w)
	return id
}

func LookupWindow(id uint64) (Window, bool) {
	w, ok := windows.Load(id)
	if !ok {
		return nil, false
	}
	return w.(Window), true
}

func UnregisterWindow(id uint64) {
	windows.Delete(id)
}
