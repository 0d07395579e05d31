package ldapmap

import "sync"

// The default directory is explicit process state with a documented
// lifecycle: set it once at startup, read it thereafter. Models built with
// a nil Directory fall back to it.
var (
	defaultDirMu sync.RWMutex
	defaultDir   Directory
)

// SetDefaultDirectory installs the fallback Directory used by models that
// were not handed one explicitly.
func SetDefaultDirectory(dir Directory) {
	defaultDirMu.Lock()
	defer defaultDirMu.Unlock()
	defaultDir = dir
}

// DefaultDirectory returns the installed fallback Directory, or nil.
func DefaultDirectory() Directory {
	defaultDirMu.RLock()
	defer defaultDirMu.RUnlock()
	return defaultDir
}
