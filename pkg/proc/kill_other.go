//go:build !unix

package proc

import "os/exec"

// configureKill keeps the exec.CommandContext default, which kills only the
// direct child.
func configureKill(cmd *exec.Cmd) {}
