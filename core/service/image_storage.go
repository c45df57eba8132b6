package service

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ImageStorage 生成封面的本地图像存储
// 文件以内容哈希命名（sha256），相同图像只存一份
// 引用格式为 images/{hash}.{ext}，由资源中间件通过 /images/ 对前端提供
type ImageStorage struct {
	imagesDir string
	client    *http.Client
	mu        sync.RWMutex
}

// NewImageStorage 创建图像存储，根目录为 dataDir/images
func NewImageStorage(dataDir string) *ImageStorage {
	return &ImageStorage{
		imagesDir: filepath.Join(dataDir, "images"),
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Initialize 创建图像目录
func (s *ImageStorage) Initialize() error {
	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		return fmt.Errorf("failed to create images directory: %w", err)
	}
	return nil
}

func extensionForMime(mimeType string) string {
	mimeType = strings.TrimSpace(strings.Split(mimeType, ";")[0])
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func mimeForFileName(fileName string) string {
	switch {
	case strings.HasSuffix(fileName, ".jpg"), strings.HasSuffix(fileName, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(fileName, ".webp"):
		return "image/webp"
	case strings.HasSuffix(fileName, ".gif"):
		return "image/gif"
	default:
		return "image/png"
	}
}

// splitDataURL 拆出 data URL 的 MIME 类型和 base64 负载
func splitDataURL(dataURL string) (mimeType, payload string) {
	idx := strings.Index(dataURL, ",")
	if idx < 0 {
		return "image/png", dataURL
	}
	header := dataURL[:idx]
	payload = dataURL[idx+1:]

	mimeType = "image/png"
	if strings.HasPrefix(header, "data:") {
		if m := strings.TrimPrefix(strings.Split(header, ";")[0], "data:"); m != "" {
			mimeType = m
		}
	}
	return mimeType, payload
}

// storeBytes 按内容哈希写入原始图像数据，返回引用
func (s *ImageStorage) storeBytes(imageData []byte, mimeType string) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("empty image data")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(imageData)
	}

	hash := sha256.Sum256(imageData)
	fileName := hex.EncodeToString(hash[:]) + extensionForMime(mimeType)
	filePath := filepath.Join(s.imagesDir, fileName)

	s.mu.Lock()
	defer s.mu.Unlock()

	// 同内容已存在则直接复用
	if _, err := os.Stat(filePath); err == nil {
		return imageRef(fileName), nil
	}
	if err := os.WriteFile(filePath, imageData, 0644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return imageRef(fileName), nil
}

// StoreDataURL 存储 base64 data URL，返回引用
func (s *ImageStorage) StoreDataURL(dataURL string) (string, error) {
	if dataURL == "" {
		return "", nil
	}

	mimeType, payload := splitDataURL(dataURL)
	imageData, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return s.storeBytes(imageData, mimeType)
}

// StoreRemoteURL 下载远端图像并存储，返回引用
// SiliconFlow / 阿里云百炼返回的是有时效的远端 URL，必须落地保存
func (s *ImageStorage) StoreRemoteURL(imageURL string) (string, error) {
	if imageURL == "" {
		return "", nil
	}

	resp, err := s.client.Get(imageURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to fetch image url: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read image body: %w", err)
	}
	return s.storeBytes(imageData, resp.Header.Get("Content-Type"))
}

// Store 按引用形式分派存储：data URL 解码落盘，http(s) URL 下载落盘
// 已是本地引用的原样返回
func (s *ImageStorage) Store(image string) (string, error) {
	switch {
	case image == "":
		return "", nil
	case strings.HasPrefix(image, "images/"):
		return image, nil
	case strings.HasPrefix(image, "/images/"):
		return strings.TrimPrefix(image, "/"), nil
	case strings.HasPrefix(image, "data:"):
		return s.StoreDataURL(image)
	case strings.HasPrefix(image, "http://"), strings.HasPrefix(image, "https://"):
		return s.StoreRemoteURL(image)
	default:
		return "", fmt.Errorf("unsupported image reference: %.32s", image)
	}
}

// StoreAll 批量存储，返回逐项对应的引用列表
func (s *ImageStorage) StoreAll(images []string) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}

	refs := make([]string, 0, len(images))
	for _, img := range images {
		ref, err := s.Store(img)
		if err != nil {
			return nil, fmt.Errorf("failed to store image: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Load 按引用读取图像，返回 data URL
func (s *ImageStorage) Load(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}

	fileName, err := refFileName(ref)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	imageData, err := os.ReadFile(filepath.Join(s.imagesDir, fileName))
	if err != nil {
		return "", fmt.Errorf("failed to read image file: %w", err)
	}
	return fmt.Sprintf("data:%s;base64,%s",
		mimeForFileName(fileName), base64.StdEncoding.EncodeToString(imageData)), nil
}

// FilePath 返回引用对应的磁盘绝对路径（导出时使用）
func (s *ImageStorage) FilePath(ref string) (string, error) {
	fileName, err := refFileName(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.imagesDir, fileName), nil
}

// CleanupUnused 删除不在 usedRefs 中的图像文件
func (s *ImageStorage) CleanupUnused(usedRefs map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.imagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read images directory: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if usedRefs[imageRef(entry.Name())] {
			continue
		}
		if err := os.Remove(filepath.Join(s.imagesDir, entry.Name())); err != nil {
			fmt.Printf("[ImageStorage] Warning: failed to delete unused image %s: %v\n", entry.Name(), err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		fmt.Printf("[ImageStorage] Cleaned up %d unused image files\n", deleted)
	}
	return nil
}

func imageRef(fileName string) string {
	return "images/" + fileName
}

// refFileName 校验引用并提取文件名，拒绝路径穿越
func refFileName(ref string) (string, error) {
	name := strings.TrimPrefix(strings.TrimPrefix(ref, "/"), "images/")
	cleaned := filepath.Clean(name)
	if cleaned == "." || cleaned == ".." || cleaned != filepath.Base(cleaned) {
		return "", fmt.Errorf("invalid image reference: %s", ref)
	}
	return cleaned, nil
}
