package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// geminiKeyEnv Gemini 的环境级凭证回退
const geminiKeyEnv = "GEMINI_API_KEY"

// minKeyLength 非交互提供商的凭证最小长度
// 仅做浅层格式检查，不向远端验证
const minKeyLength = 5

// KeyChooser 宿主环境提供的交互式凭证选择能力（可选注入）
// 核心逻辑不直接探测全局环境，没有该能力时使用空实现
type KeyChooser interface {
	// Selected 返回宿主环境是否已完成凭证选择
	Selected() bool
	// RequestSelection 触发宿主的凭证选择流程，调用方随后重新检查凭证状态
	RequestSelection(ctx context.Context)
}

// noopKeyChooser 空实现：无交互能力，请求选择时仅输出警告
type noopKeyChooser struct{}

func (noopKeyChooser) Selected() bool { return false }

func (noopKeyChooser) RequestSelection(ctx context.Context) {
	fmt.Printf("[Provider] Warning: 当前环境不支持交互式凭证选择\n")
}

// NopKeyChooser 返回空实现的凭证选择器
func NopKeyChooser() KeyChooser { return noopKeyChooser{} }

// hasKey 判断保存的凭证是否通过浅层格式检查
func hasKey(savedKey string) bool {
	return len(strings.TrimSpace(savedKey)) > minKeyLength
}

// geminiEnvKey 返回环境变量中的 Gemini 凭证
func geminiEnvKey() string {
	return strings.TrimSpace(os.Getenv(geminiKeyEnv))
}

// CheckCredential 判断指定提供商是否存在可用凭证
// Gemini：宿主已选择凭证，或保存/环境变量中存在非空 Key
// 其他提供商：保存的 Key 长度需超过最小阈值
func CheckCredential(providerID, savedKey string, chooser KeyChooser) bool {
	if providerID == ProviderGemini {
		if chooser != nil && chooser.Selected() {
			return true
		}
		return strings.TrimSpace(savedKey) != "" || geminiEnvKey() != ""
	}
	return hasKey(savedKey)
}

// RequestKeySelection 触发交互式凭证选择
// 仅 Gemini 支持；选择完成后由调用方重新检查凭证状态
func RequestKeySelection(ctx context.Context, providerID string, chooser KeyChooser) {
	if providerID != ProviderGemini {
		fmt.Printf("[Provider] Warning: 提供商 %s 不支持交互式凭证选择\n", providerID)
		return
	}
	if chooser == nil {
		chooser = NopKeyChooser()
	}
	chooser.RequestSelection(ctx)
}
