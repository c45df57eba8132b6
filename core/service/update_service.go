package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/blang/semver"
	"github.com/run-bigpig/go-github-selfupdate/selfupdate"
	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// UpdateService 更新检测服务
// 从 GitHub Releases 检测和下载更新
type UpdateService struct {
	ctx            context.Context
	repoOwner      string
	repoName       string
	currentVersion string

	// detectLatest / updateTo 可替换以便单测注入假实现
	detectLatest func(repo string) (*selfupdate.Release, bool, error)
	updateTo     func(assetURL, exePath string) error
}

// UpdateInfo 更新信息
type UpdateInfo struct {
	HasUpdate      bool   `json:"hasUpdate"`
	LatestVersion  string `json:"latestVersion"`
	CurrentVersion string `json:"currentVersion"`
	ReleaseURL     string `json:"releaseUrl"`
	ReleaseNotes   string `json:"releaseNotes"`
	Error          string `json:"error,omitempty"`
}

// UpdateProgress 更新进度信息
type UpdateProgress struct {
	Status  string `json:"status"`  // "checking", "downloading", "installing", "completed", "error"
	Message string `json:"message"` // 状态消息
	Percent int    `json:"percent"` // 进度百分比 (0-100)
}

// NewUpdateService 创建更新服务实例
func NewUpdateService(repoOwner, repoName, currentVersion string) *UpdateService {
	return &UpdateService{
		repoOwner:      repoOwner,
		repoName:       repoName,
		currentVersion: currentVersion,
		detectLatest:   selfupdate.DetectLatest,
		updateTo:       selfupdate.UpdateTo,
	}
}

// Startup 在应用启动时调用，顺带清理上次更新遗留的旧文件
func (u *UpdateService) Startup(ctx context.Context) {
	u.ctx = ctx
	if err := u.CleanupOldFiles(); err != nil {
		fmt.Printf("[UpdateService] Warning: 清理旧文件失败: %v\n", err)
	}
}

// CheckForUpdate 检查是否有可用更新
// 检测失败时错误放入返回值的 Error 字段，不作为 error 返回，便于前端展示
func (u *UpdateService) CheckForUpdate() (UpdateInfo, error) {
	repo := fmt.Sprintf("%s/%s", u.repoOwner, u.repoName)
	fmt.Printf("[UpdateService] Checking for updates from repo: %s, current version: %s\n", repo, u.currentVersion)

	latest, found, err := u.detectLatest(repo)
	if err != nil {
		fmt.Printf("[UpdateService] DetectLatest error: %v\n", err)
		return UpdateInfo{
			HasUpdate:      false,
			CurrentVersion: u.currentVersion,
			Error:          fmt.Sprintf("检测更新失败: %v", err),
		}, nil
	}
	if !found {
		return UpdateInfo{
			HasUpdate:      false,
			CurrentVersion: u.currentVersion,
			LatestVersion:  u.currentVersion,
			Error:          "未找到 GitHub Release，请检查仓库配置或网络连接",
		}, nil
	}

	currentVer, err := semver.ParseTolerant(u.currentVersion)
	if err != nil {
		// 版本号无法解析时退化为字符串比较
		return UpdateInfo{
			HasUpdate:      latest.Version.String() != u.currentVersion,
			CurrentVersion: u.currentVersion,
			LatestVersion:  latest.Version.String(),
			ReleaseURL:     latest.URL,
			Error:          fmt.Sprintf("版本格式解析失败: %v", err),
		}, nil
	}

	hasUpdate := latest.Version.GT(currentVer)
	fmt.Printf("[UpdateService] Version comparison: current=%s, latest=%s, hasUpdate=%v\n",
		currentVer.String(), latest.Version.String(), hasUpdate)

	info := UpdateInfo{
		HasUpdate:      hasUpdate,
		CurrentVersion: u.currentVersion,
		LatestVersion:  latest.Version.String(),
		ReleaseURL:     latest.URL,
		ReleaseNotes:   latest.ReleaseNotes,
	}
	return info, nil
}

// CheckForUpdateJSON 检查更新并返回 JSON 格式
func (u *UpdateService) CheckForUpdateJSON() (string, error) {
	info, err := u.CheckForUpdate()
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to serialize update info: %w", err)
	}
	return string(data), nil
}

// GetCurrentVersion 获取当前版本
func (u *UpdateService) GetCurrentVersion() string {
	return u.currentVersion
}

// emitProgress 通过 Wails 事件推送更新进度
func (u *UpdateService) emitProgress(status, message string, percent int) {
	if u.ctx == nil {
		return
	}
	progressJSON, err := json.Marshal(UpdateProgress{
		Status:  status,
		Message: message,
		Percent: percent,
	})
	if err != nil {
		fmt.Printf("[UpdateService] Warning: 序列化进度信息失败: %v\n", err)
		return
	}
	wailsruntime.EventsEmit(u.ctx, "update:progress", string(progressJSON))
}

// Update 执行更新（下载并替换当前可执行文件）
// 下载由 selfupdate.UpdateTo 一体完成，进度按阶段粗粒度推送；更新完成后需要重启应用生效
func (u *UpdateService) Update() error {
	u.emitProgress("checking", "正在检查更新...", 0)

	repo := fmt.Sprintf("%s/%s", u.repoOwner, u.repoName)
	latest, found, err := u.detectLatest(repo)
	if err != nil {
		u.emitProgress("error", fmt.Sprintf("检测更新失败: %v", err), 0)
		return fmt.Errorf("检测更新失败: %w", err)
	}
	if !found {
		u.emitProgress("error", "未找到更新", 0)
		return fmt.Errorf("未找到更新")
	}

	currentVer, err := semver.ParseTolerant(u.currentVersion)
	if err != nil {
		u.emitProgress("error", fmt.Sprintf("版本格式解析失败: %v", err), 0)
		return fmt.Errorf("版本格式解析失败: %w", err)
	}
	if !latest.Version.GT(currentVer) {
		u.emitProgress("error", "已是最新版本", 0)
		return fmt.Errorf("已是最新版本")
	}

	exe, err := os.Executable()
	if err != nil {
		u.emitProgress("error", fmt.Sprintf("获取可执行文件路径失败: %v", err), 0)
		return fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	u.emitProgress("downloading", fmt.Sprintf("正在下载版本 %s...", latest.Version.String()), 30)
	if err := u.updateTo(latest.AssetURL, exe); err != nil {
		u.emitProgress("error", fmt.Sprintf("更新失败: %v", err), 0)
		return fmt.Errorf("更新失败: %w", err)
	}

	u.emitProgress("installing", "正在安装更新...", 90)
	u.emitProgress("completed",
		fmt.Sprintf("更新完成！新版本 %s 已安装，应用将在几秒后自动重启...", latest.Version.String()), 100)
	return nil
}

// RestartApplication 重启应用程序
// 启动新进程后延迟退出当前进程，支持 Windows / Linux / macOS
func (u *UpdateService) RestartApplication() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("获取可执行文件路径失败: %w", err)
	}
	exePath, err := filepath.Abs(exe)
	if err != nil {
		return fmt.Errorf("获取可执行文件绝对路径失败: %w", err)
	}

	fmt.Printf("[UpdateService] 准备重启应用: %s\n", exePath)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command(exePath)
	case "darwin", "linux":
		cmd = exec.Command("sh", "-c", fmt.Sprintf("sleep 2 && %s", exePath))
	default:
		return fmt.Errorf("不支持的操作系统: %s", runtime.GOOS)
	}
	setSysProcAttr(cmd)
	cmd.Dir = filepath.Dir(exePath)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("启动新进程失败: %w", err)
	}

	fmt.Printf("[UpdateService] 新进程已启动，当前进程将在 2 秒后退出\n")
	go func() {
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()
	return nil
}

// GetExecutableName 获取当前平台的发布二进制文件名
func GetExecutableName() string {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	return fmt.Sprintf("covergen-%s-%s%s", runtime.GOOS, runtime.GOARCH, ext)
}

// CleanupOldFiles 清理工作目录下更新遗留的旧文件
// *.old / *.bak / 过期 *.tmp，以及 7 天前的旧版本二进制
func (u *UpdateService) CleanupOldFiles() error {
	exeDir, err := getExecutableDir()
	if err != nil {
		return fmt.Errorf("获取可执行文件目录失败: %w", err)
	}
	currentExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("获取当前可执行文件路径失败: %w", err)
	}
	currentExeAbs, _ := filepath.Abs(currentExe)

	cleaned := 0
	for _, pattern := range []string{"*.old", "*.bak", "*.tmp"} {
		matches, err := filepath.Glob(filepath.Join(exeDir, pattern))
		if err != nil {
			continue
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			// 1 小时内修改过的 .tmp 可能仍在使用
			if filepath.Ext(match) == ".tmp" && time.Since(info.ModTime()) < time.Hour {
				continue
			}
			if err := os.Remove(match); err != nil {
				fmt.Printf("[UpdateService] Warning: 删除文件失败 %s: %v\n", match, err)
				continue
			}
			cleaned++
		}
	}

	exePattern := "covergen-*"
	if runtime.GOOS == "windows" {
		exePattern += ".exe"
	}
	if matches, err := filepath.Glob(filepath.Join(exeDir, exePattern)); err == nil {
		for _, match := range matches {
			matchAbs, _ := filepath.Abs(match)
			if matchAbs == currentExeAbs {
				continue
			}
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			if time.Since(info.ModTime()) > 7*24*time.Hour {
				if err := os.Remove(match); err == nil {
					cleaned++
				}
			}
		}
	}

	if cleaned > 0 {
		fmt.Printf("[UpdateService] 清理完成，共清理 %d 个文件\n", cleaned)
	}
	return nil
}
