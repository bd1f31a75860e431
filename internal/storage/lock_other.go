//go:build !unix

package storage

import "os"

// TODO: use LockFileEx on windows; until then a second process is not kept out.
func lockFile(*os.File) error { return nil }
