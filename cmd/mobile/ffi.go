// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libsalesync.so (Android) / salesync.framework (iOS)
//
//go:build cgo

package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"sync"
	"unsafe"

	"github.com/stockline/salesync/internal/app"
)

var (
	bridge  = app.NewBridge()
	lastErr string
	lastMu  sync.RWMutex
)

//export Init
// Init starts the sync engine. settings is a JSON document layered over the
// defaults and may be NULL. Returns 0 on success, non-zero on error.
func Init(settings *C.char) int32 {
	var s string
	if settings != nil {
		s = C.GoString(settings)
	}
	if err := bridge.Init(context.Background(), s); err != nil {
		setLastError(err)
		return 1
	}
	return 0
}

//export Cleanup
// Cleanup stops the engine and releases storage.
func Cleanup() {
	if err := bridge.Close(); err != nil {
		setLastError(err)
	}
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()

	return C.CString(lastErr)
}

func setLastError(err error) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err.Error()
}

// result converts a bridge call into a C string, or NULL with the error
// recorded for GetLastError.
func result(out string, err error) *C.char {
	if err != nil {
		setLastError(err)
		return nil
	}
	return C.CString(out)
}

//export RunSync
// RunSync runs one sync cycle and blocks until it finishes.
// Returns a JSON SyncResult that must be freed by the caller.
func RunSync() *C.char {
	return result(bridge.RunSync(context.Background()))
}

//export QueueOrExecute
// QueueOrExecute applies a JSON mutation, sending it now when online.
// Returns a JSON ExecResult that must be freed by the caller.
func QueueOrExecute(mutation *C.char) *C.char {
	return result(bridge.QueueOrExecute(context.Background(), C.GoString(mutation)))
}

//export SyncStatus
// SyncStatus returns the persisted sync status as JSON.
func SyncStatus() *C.char {
	return result(bridge.Status())
}

//export QueueStats
// QueueStats returns the queue counters as JSON.
func QueueStats() *C.char {
	return result(bridge.QueueStats(context.Background()))
}

//export CachedTable
// CachedTable returns the cached rows of one table as JSON.
func CachedTable(table *C.char) *C.char {
	return result(bridge.Cached(context.Background(), C.GoString(table)))
}

//export Conflicts
// Conflicts returns the conflict log as a JSON array.
func Conflicts() *C.char {
	return result(bridge.Conflicts(context.Background()))
}

//export SetOnline
// SetOnline reports a platform network change. Returns 0 on success.
func SetOnline(online int32) int32 {
	if err := bridge.SetOnline(online != 0); err != nil {
		setLastError(err)
		return 1
	}
	return 0
}

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func main() {
	// Main entry point for shared library
	// Not used when loaded as library
}
