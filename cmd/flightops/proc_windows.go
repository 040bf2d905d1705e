//go:build windows

package main

import "os/exec"

func configureDaemonProc(cmd *exec.Cmd) {
	// Windows doesn't use Setsid; the child already outlives the console.
}
