package prompt

import (
	"fmt"
	"strings"
	"unicode"

	"covergen/core/types"
)

// 平台名称映射，用于提示词里的平台标注
var platformNames = map[string]string{
	"bilibili":    "Bilibili video cover",
	"youtube":     "YouTube thumbnail",
	"xiaohongshu": "Xiaohongshu post cover",
	"wechat":      "WeChat article cover",
}

// containsCJK 判断文本中是否包含中文（CJK 统一表意文字）
func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// Build 根据封面请求构建提供商无关的生成提示词
// 纯函数：无 I/O、无隐藏状态，相同输入产出相同结果
// forceScriptHint 为 true 时，即使标题不含中文也追加中文渲染强化段
func Build(req types.CoverRequest, forceScriptHint bool) string {
	hasScript := forceScriptHint ||
		containsCJK(req.MainTitle) || containsCJK(req.SubTitle) || containsCJK(req.Instruction)

	platform := platformNames[req.Platform]
	if platform == "" {
		platform = "social media cover"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Design a viral, eye-catching %s image.\n", platform)
	fmt.Fprintf(&b, "The image MUST contain the main title text, rendered exactly as written: \"%s\".\n", req.MainTitle)
	fmt.Fprintf(&b, "The image MUST contain the subtitle text, rendered exactly as written: \"%s\".\n", req.SubTitle)
	b.WriteString("All text must be large, highly legible and well contrasted against the background, with strong typographic hierarchy between main title and subtitle.\n")

	if s := strings.TrimSpace(req.Instruction); s != "" {
		fmt.Fprintf(&b, "Style direction: %s\n", s)
	}

	fmt.Fprintf(&b, "Target aspect ratio: %s.\n", req.AspectRatio)
	b.WriteString("Output a high-resolution, production-quality image with clean edges and no watermarks.\n")

	if hasScript {
		b.WriteString("IMPORTANT: The title text is in Chinese. Render every Chinese character with correct, complete strokes. ")
		b.WriteString("Do not output garbled, malformed or placeholder glyphs. ")
		b.WriteString("Prefer a bold sans-serif Chinese typeface (such as a heavy black/hei style) for maximum impact.\n")
	}

	if req.ReferenceImage != "" {
		b.WriteString("A reference image is attached: use it ONLY for layout, composition and color palette. Do not copy its subject or text.\n")
	}
	if req.SubjectImage != "" {
		b.WriteString("A subject image is attached: use it as the main subject of the cover, placed prominently.\n")
	}

	return b.String()
}
