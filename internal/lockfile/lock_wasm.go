//go:build js && wasm

package lockfile

import "os"

// WASM is single-process; locking is a no-op.
func flockExclusiveNonBlock(*os.File) error { return nil }

func flockUnlock(*os.File) error { return nil }
