package types

// ==================== 应用设置结构 ====================

// Settings 应用设置结构
// 以单一 JSON 文档形式持久化（config/settings.json），启动时加载一次
type Settings struct {
	Version string           `json:"version"`
	AI      ProviderSettings `json:"ai"`
}

// ProviderSettings AI 提供商设置
// APIKeys 按提供商 ID 存储，落盘前加密
type ProviderSettings struct {
	ActiveProvider string            `json:"activeProvider"`
	APIKeys        map[string]string `json:"apiKeys"`        // 提供商 ID -> API Key（加密存储）
	SelectedModels map[string]string `json:"selectedModels"` // 提供商 ID -> 模型 ID

	// Vertex AI 配置（Gemini 的环境级凭证回退）
	UseVertexAI    bool   `json:"useVertexAI"`
	VertexProject  string `json:"vertexProject"`
	VertexLocation string `json:"vertexLocation"` // GCP 区域（如 us-central1）
}

// ==================== 封面生成参数结构体 ====================

// CoverRequest 封面生成请求
// 一次生成尝试内不可变
type CoverRequest struct {
	MainTitle      string `json:"mainTitle"`
	SubTitle       string `json:"subTitle"`
	SubjectImage   string `json:"subjectImage,omitempty"`   // base64 data URL，主体图（可选）
	ReferenceImage string `json:"referenceImage,omitempty"` // base64 data URL，参考图（可选）
	Instruction    string `json:"instruction"`              // 自由风格描述
	Platform       string `json:"platform"`                 // "bilibili", "youtube", "xiaohongshu", "wechat"
	AspectRatio    string `json:"aspectRatio"`              // "16:9", "4:3", "3:4", "1:1"
}

// GenerationResult 生成结果
// Images 为 data URI 或远端 URL，顺序即提供商返回顺序
type GenerationResult struct {
	Images   []string `json:"images"`
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
}
