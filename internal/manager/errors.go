package manager

import "errors"

// ErrHandleNotFound is returned by Run/Unload when jobHandle names no
// entry in the worklist.
var ErrHandleNotFound = errors.New("manager: handle not found")
