package provider

// ModelOption 可选模型条目
type ModelOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Badge string `json:"badge,omitempty"` // 如 "推荐"、"高级"
	Desc  string `json:"desc,omitempty"`
}

// ProviderInfo 提供商静态配置（只读）
type ProviderInfo struct {
	ID             string        `json:"id"`
	DisplayName    string        `json:"displayName"`
	Icon           string        `json:"icon"`
	Website        string        `json:"website"`
	KeyPlaceholder string        `json:"keyPlaceholder"`
	Models         []ModelOption `json:"models"`
}

// Gemini 模型分层常量
// 高级档模型在权限被拒时自动降级到回退模型重试一次
const (
	GeminiProImageModel      = "gemini-3-pro-image-preview"
	GeminiFallbackImageModel = "gemini-2.5-flash-image"
)

// Catalog 全部提供商的静态配置，顺序即前端展示顺序
var Catalog = []ProviderInfo{
	{
		ID:             ProviderGemini,
		DisplayName:    "Google Gemini",
		Icon:           "gemini.svg",
		Website:        "https://aistudio.google.com/apikey",
		KeyPlaceholder: "AIza...",
		Models: []ModelOption{
			{ID: GeminiFallbackImageModel, Name: "Gemini 2.5 Flash Image", Badge: "推荐", Desc: "速度快，中文文字渲染稳定"},
			{ID: GeminiProImageModel, Name: "Gemini 3 Pro Image", Badge: "高级", Desc: "画质更高，支持 2K 输出，需要开通权限"},
		},
	},
	{
		ID:             ProviderSiliconFlow,
		DisplayName:    "SiliconFlow 硅基流动",
		Icon:           "siliconflow.svg",
		Website:        "https://cloud.siliconflow.cn",
		KeyPlaceholder: "sk-...",
		Models: []ModelOption{
			{ID: "Kwai-Kolors/Kolors", Name: "Kolors", Badge: "推荐", Desc: "国产模型，中文场景表现好"},
			{ID: "black-forest-labs/FLUX.1-dev", Name: "FLUX.1 dev", Desc: "细节丰富，文字渲染一般"},
		},
	},
	{
		ID:             ProviderOpenAI,
		DisplayName:    "OpenAI 兼容接口",
		Icon:           "openai.svg",
		Website:        "https://platform.openai.com",
		KeyPlaceholder: "sk-...",
		Models: []ModelOption{
			{ID: "gpt-image-1", Name: "GPT Image 1", Badge: "推荐"},
			{ID: "dall-e-3", Name: "DALL-E 3"},
		},
	},
	{
		ID:             ProviderDashScope,
		DisplayName:    "阿里云百炼",
		Icon:           "dashscope.svg",
		Website:        "https://bailian.console.aliyun.com",
		KeyPlaceholder: "sk-...",
		Models: []ModelOption{
			{ID: "wanx2.1-t2i-turbo", Name: "万相 2.1 Turbo", Badge: "推荐"},
			{ID: "wanx2.1-t2i-plus", Name: "万相 2.1 Plus", Desc: "画质更高，生成更慢"},
		},
	},
}

// CatalogInfo 按 ID 查找提供商静态配置
func CatalogInfo(id string) (ProviderInfo, bool) {
	for _, info := range Catalog {
		if info.ID == id {
			return info, true
		}
	}
	return ProviderInfo{}, false
}

// DefaultModel 返回提供商的默认模型 ID（目录中的第一项）
func DefaultModel(id string) string {
	info, ok := CatalogInfo(id)
	if !ok || len(info.Models) == 0 {
		return ""
	}
	return info.Models[0].ID
}

// ValidModel 判断模型 ID 是否存在于提供商目录中
func ValidModel(providerID, modelID string) bool {
	info, ok := CatalogInfo(providerID)
	if !ok {
		return false
	}
	for _, m := range info.Models {
		if m.ID == modelID {
			return true
		}
	}
	return false
}
