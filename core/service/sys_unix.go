//go:build !windows

package service

import "os/exec"

// setSysProcAttr 非 Windows 系统不需要特殊进程属性
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = nil
}
