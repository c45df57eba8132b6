package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 生成错误分类
// 按错误种类划分，而不是按提供商划分
type ErrorKind string

const (
	ErrKindConfig       ErrorKind = "config"       // 凭证缺失/提供商未知/模型未选择，发起网络请求前即可判定
	ErrKindPermission   ErrorKind = "permission"   // 远端拒绝凭证与模型的组合
	ErrKindQuota        ErrorKind = "quota"        // 配额耗尽，永不重试
	ErrKindConnectivity ErrorKind = "connectivity" // 传输层失败（DNS/TLS/连接），永不重试
	ErrKindEmpty        ErrorKind = "empty"        // 调用成功但未返回任何图像
	ErrKindTimeout      ErrorKind = "timeout"      // 轮询预算耗尽
	ErrKindProvider     ErrorKind = "provider"     // 其余远端错误，原样透传
)

// GenerationError 生成失败错误
// Message 面向用户展示，Kind 供程序判定（是否降级重试等）
type GenerationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewError 创建指定分类的生成错误
func NewError(kind ErrorKind, message string, cause error) *GenerationError {
	return &GenerationError{Kind: kind, Message: message, Err: cause}
}

// KindOf 返回错误的分类，非 GenerationError 一律视为 provider 类
func KindOf(err error) ErrorKind {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return ErrKindProvider
}

// UserMessage 提取面向用户的错误消息
// 错误不携带消息时回退到通用提示
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) && genErr.Message != "" {
		return genErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "生成失败，请稍后重试"
}

// 传输层失败的特征子串，命中即归类为网络错误
var connectivityPatterns = []string{
	"dial tcp",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"tls handshake",
	"i/o timeout",
	"context deadline exceeded",
	"fetch failed",
}

// 权限类失败的特征子串
var permissionPatterns = []string{
	"permission_denied",
	"permission denied",
	"status 403",
	"http 403",
	"access denied",
	"unauthorized",
}

// 配额类失败的特征子串
var quotaPatterns = []string{
	"resource_exhausted",
	"quota",
	"status 429",
	"http 429",
	"rate limit",
	"insufficient balance",
}

func matchAny(msg string, patterns []string) bool {
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsPermissionError 判断远端错误是否为权限拒绝
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == ErrKindPermission {
		return true
	}
	return matchAny(err.Error(), permissionPatterns)
}

// IsQuotaError 判断远端错误是否为配额耗尽
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == ErrKindQuota {
		return true
	}
	return matchAny(err.Error(), quotaPatterns)
}

// IsConnectivityError 判断错误是否为传输层失败
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == ErrKindConnectivity {
		return true
	}
	return matchAny(err.Error(), connectivityPatterns)
}

// ClassifyRemoteError 将远端调用错误包装为带分类和用户消息的生成错误
// 已经是 GenerationError 的保持原样；无法识别的错误原样透传（provider 类）
func ClassifyRemoteError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return err
	}

	switch {
	case IsQuotaError(err):
		return NewError(ErrKindQuota,
			fmt.Sprintf("%s 配额已用尽，请检查账户余额或稍后重试", providerName), err)
	case IsPermissionError(err):
		return NewError(ErrKindPermission,
			fmt.Sprintf("%s 拒绝了当前的 API Key 或模型权限，请检查 Key 是否有效、模型是否已开通", providerName), err)
	case IsConnectivityError(err):
		return NewError(ErrKindConnectivity,
			fmt.Sprintf("无法连接到 %s，请检查网络或代理设置", providerName), err)
	default:
		return NewError(ErrKindProvider, err.Error(), err)
	}
}
