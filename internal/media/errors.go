//////////////////////////////////////////////////////////////////////////////
//
// Media errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "github.com/pkg/errors"

var (
	errNotFound = errors.New("Not found")

	// ErrNotSupported is returned for "can't do" items.
	ErrNotSupported = errors.New("Not supported")

	// ErrReleased is returned by components used after Release.
	ErrReleased = errors.New("Released")

	// ErrInvalidState is returned when an operation is not permitted in the
	// component's current lifecycle state.
	ErrInvalidState = errors.New("Invalid state")
)
