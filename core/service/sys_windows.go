//go:build windows

package service

import (
	"os/exec"
	"syscall"
)

// CREATE_NO_WINDOW Windows API 常量，创建不显示控制台窗口的进程
const CREATE_NO_WINDOW = 0x08000000

// setSysProcAttr 在 Windows 下隐藏新进程的控制台窗口
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: CREATE_NO_WINDOW,
	}
}
