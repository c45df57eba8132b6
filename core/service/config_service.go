package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"covergen/core/provider"
	"covergen/core/types"
)

// 加密值前缀，用于区分密文和历史遗留的明文 Key
const encryptedPrefix = "enc:v1:"

// settingsVersion 当前设置文档版本
const settingsVersion = "1.0"

// ConfigService 配置管理服务
// 设置以单一 JSON 文档持久化在执行文件目录下的 config/settings.json
// 启动时加载一次，之后整体读写；API Key 落盘前用 secretbox 加密
type ConfigService struct {
	ctx context.Context
	mu  sync.RWMutex

	dataDir      string
	settingsFile string
	secretFile   string

	secret   []byte // 本机密钥，首次启动生成
	settings types.Settings
}

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	return &ConfigService{}
}

// getExecutableDir 返回当前可执行文件所在目录
func getExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Dir(exe), nil
}

// Startup 在应用启动时调用，创建数据目录并加载设置
func (c *ConfigService) Startup(ctx context.Context) error {
	c.ctx = ctx

	exeDir, err := getExecutableDir()
	if err != nil {
		return err
	}
	return c.initialize(filepath.Join(exeDir, "config"))
}

// initialize 绑定数据目录并完成首次加载
func (c *ConfigService) initialize(dataDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dataDir = dataDir
	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	c.settingsFile = filepath.Join(c.dataDir, "settings.json")
	c.secretFile = filepath.Join(c.dataDir, ".secret")

	secret, err := c.loadOrCreateSecret()
	if err != nil {
		return err
	}
	c.secret = secret

	c.settings = c.loadFromDisk()
	return nil
}

// DataDir 返回配置数据目录
func (c *ConfigService) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataDir
}

// defaultSettings 硬编码的默认设置
// 每个提供商的默认模型取目录中的第一项
func defaultSettings() types.Settings {
	models := make(map[string]string, len(provider.Catalog))
	for _, info := range provider.Catalog {
		models[info.ID] = provider.DefaultModel(info.ID)
	}
	return types.Settings{
		Version: settingsVersion,
		AI: types.ProviderSettings{
			ActiveProvider: provider.ProviderGemini,
			APIKeys:        make(map[string]string),
			SelectedModels: models,
		},
	}
}

// loadFromDisk 从磁盘加载设置
// 文件不存在或无法解析时回退到默认设置，不视为错误
func (c *ConfigService) loadFromDisk() types.Settings {
	data, err := os.ReadFile(c.settingsFile)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("[ConfigService] Warning: failed to read settings file: %v\n", err)
		}
		return defaultSettings()
	}

	var settings types.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		fmt.Printf("[ConfigService] Warning: settings file corrupted, falling back to defaults: %v\n", err)
		return defaultSettings()
	}

	// 解密 API Key；单个 Key 解密失败时丢弃该 Key，不影响其余设置
	for id, value := range settings.AI.APIKeys {
		plain, err := c.decryptValue(value)
		if err != nil {
			fmt.Printf("[ConfigService] Warning: failed to decrypt key for %s, dropping it: %v\n", id, err)
			delete(settings.AI.APIKeys, id)
			continue
		}
		settings.AI.APIKeys[id] = plain
	}

	reconcileSettings(&settings)
	return settings
}

// reconcileSettings 校正设置中的过期字段
// 目录中已不存在的模型 ID 重置为该提供商的默认模型；未知的激活提供商重置为默认
func reconcileSettings(settings *types.Settings) {
	if settings.AI.APIKeys == nil {
		settings.AI.APIKeys = make(map[string]string)
	}
	if settings.AI.SelectedModels == nil {
		settings.AI.SelectedModels = make(map[string]string)
	}

	if _, ok := provider.CatalogInfo(settings.AI.ActiveProvider); !ok {
		fmt.Printf("[ConfigService] Unknown active provider %q, resetting to %s\n",
			settings.AI.ActiveProvider, provider.ProviderGemini)
		settings.AI.ActiveProvider = provider.ProviderGemini
	}

	for _, info := range provider.Catalog {
		selected, ok := settings.AI.SelectedModels[info.ID]
		if !ok || !provider.ValidModel(info.ID, selected) {
			if ok {
				fmt.Printf("[ConfigService] Stale model %q for %s, resetting to default\n", selected, info.ID)
			}
			settings.AI.SelectedModels[info.ID] = provider.DefaultModel(info.ID)
		}
	}
	settings.Version = settingsVersion
}

// LoadSettings 加载设置，返回 JSON 字符串（Key 为明文，供前端表单回填）
func (c *ConfigService) LoadSettings() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c.settings)
	if err != nil {
		return "", fmt.Errorf("failed to serialize settings: %w", err)
	}
	return string(data), nil
}

// Settings 返回当前设置的副本
func (c *ConfigService) Settings() types.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	settings := c.settings
	settings.AI.APIKeys = copyStringMap(c.settings.AI.APIKeys)
	settings.AI.SelectedModels = copyStringMap(c.settings.AI.SelectedModels)
	return settings
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SaveSettings 保存设置（整体覆盖）
// 校正过期模型 ID 后落盘，API Key 加密存储
func (c *ConfigService) SaveSettings(settingsJSON string) error {
	var settings types.Settings
	if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
		return fmt.Errorf("invalid settings format: %w", err)
	}
	reconcileSettings(&settings)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings = settings
	return c.persistLocked()
}

// persistLocked 将当前设置原子地写入磁盘（须持有写锁）
func (c *ConfigService) persistLocked() error {
	// 加密副本，内存中的设置保持明文
	onDisk := c.settings
	onDisk.AI.APIKeys = make(map[string]string, len(c.settings.AI.APIKeys))
	for id, key := range c.settings.AI.APIKeys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		encrypted, err := c.encryptValue(key)
		if err != nil {
			return fmt.Errorf("failed to encrypt key for %s: %w", id, err)
		}
		onDisk.AI.APIKeys[id] = encrypted
	}

	data, err := json.Marshal(onDisk)
	if err != nil {
		return fmt.Errorf("failed to serialize settings: %w", err)
	}

	// 临时文件 + 原子重命名，避免写入中途损坏
	tempFile := c.settingsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp settings file: %w", err)
	}
	if err := os.Rename(tempFile, c.settingsFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename settings file: %w", err)
	}
	return nil
}

// ClearAllData 删除设置文件并恢复默认设置
func (c *ConfigService) ClearAllData() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.settingsFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove settings file: %w", err)
	}
	c.settings = defaultSettings()
	fmt.Printf("[ConfigService] All settings cleared, defaults restored\n")
	return nil
}

// ==================== API Key 加密 ====================

// loadOrCreateSecret 加载本机密钥，不存在时生成
// 密钥仅用于混淆本地磁盘上的 Key，不提供跨机器的保密性
func (c *ConfigService) loadOrCreateSecret() ([]byte, error) {
	if data, err := os.ReadFile(c.secretFile); err == nil && len(data) == 32 {
		return data, nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate local secret: %w", err)
	}
	if err := os.WriteFile(c.secretFile, secret, 0600); err != nil {
		return nil, fmt.Errorf("failed to write local secret: %w", err)
	}
	return secret, nil
}

// deriveKey 用 scrypt 从本机密钥和盐派生 secretbox 密钥
func (c *ConfigService) deriveKey(salt []byte) (*[32]byte, error) {
	derived, err := scrypt.Key(c.secret, salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	var key [32]byte
	copy(key[:], derived)
	return &key, nil
}

// encryptValue 加密单个 Key，格式为 enc:v1:base64(salt | nonce | box)
func (c *ConfigService) encryptValue(plain string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}

	key, err := c.deriveKey(salt)
	if err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nil, []byte(plain), &nonce, key)
	blob := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce[:]...)
	blob = append(blob, sealed...)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(blob), nil
}

// decryptValue 解密单个 Key；非加密前缀的值视为明文原样返回（旧版本迁移）
func (c *ConfigService) decryptValue(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("invalid encrypted value: %w", err)
	}
	if len(blob) < 16+24+secretbox.Overhead {
		return "", fmt.Errorf("encrypted value too short")
	}

	salt := blob[:16]
	var nonce [24]byte
	copy(nonce[:], blob[16:40])

	key, err := c.deriveKey(salt)
	if err != nil {
		return "", err
	}

	plain, ok := secretbox.Open(nil, blob[40:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("failed to decrypt value")
	}
	return string(plain), nil
}
