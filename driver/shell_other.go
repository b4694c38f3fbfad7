//go:build !unix

package driver

import "os/exec"

// killProcessGroup keeps exec's default cancel, which kills the process only
func killProcessGroup(c *exec.Cmd) {}
