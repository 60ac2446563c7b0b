//go:build windows

package main

import "os"

// reloadSignals is empty on Windows, which has no SIGHUP. The config
// watcher still picks up edits.
func reloadSignals() []os.Signal {
	return nil
}
