package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// FileService 文件管理服务，提供封面导出功能
type FileService struct {
	ctx          context.Context
	imageStorage *ImageStorage
}

// NewFileService 创建文件服务实例
func NewFileService(imageStorage *ImageStorage) *FileService {
	return &FileService{imageStorage: imageStorage}
}

// Startup 在应用启动时调用
func (f *FileService) Startup(ctx context.Context) {
	f.ctx = ctx
}

// decodeDataURL 解析 data URL 中的 base64 图像数据
func decodeDataURL(imageDataURL string) ([]byte, error) {
	idx := strings.Index(imageDataURL, ",")
	if idx < 0 {
		return nil, fmt.Errorf("invalid image data URL format")
	}
	imageData, err := base64.StdEncoding.DecodeString(imageDataURL[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return imageData, nil
}

// resolveImageBytes 将图像引用解析为原始字节
// 支持 data URL 和本地图像引用（images/{hash}.{ext}）
func (f *FileService) resolveImageBytes(image string) ([]byte, error) {
	if strings.HasPrefix(image, "data:") {
		return decodeDataURL(image)
	}
	if f.imageStorage != nil {
		path, err := f.imageStorage.FilePath(image)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read stored image: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported image reference: %.32s", image)
}

// ExportImage 导出单张封面
// image: data URL 或本地图像引用
// suggestedName: 建议的文件名
// format: 导出格式 ("png", "jpeg", "webp")，为空时默认 png
// exportDir: 导出目录，为空时弹出保存对话框
// 返回保存路径；用户取消时返回空字符串
func (f *FileService) ExportImage(image string, suggestedName string, format string, exportDir string) (string, error) {
	if f.ctx == nil {
		return "", fmt.Errorf("service not initialized")
	}

	defaultFilename := suggestedName
	if defaultFilename == "" {
		ext := ".png"
		switch format {
		case "jpeg":
			ext = ".jpg"
		case "webp":
			ext = ".webp"
		}
		defaultFilename = fmt.Sprintf("covergen-export-%d%s", time.Now().Unix(), ext)
	}

	var filePath string
	var err error

	if exportDir != "" {
		if err := os.MkdirAll(exportDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create export directory: %w", err)
		}
		filePath = filepath.Join(exportDir, defaultFilename)
	} else {
		filePath, err = runtime.SaveFileDialog(f.ctx, runtime.SaveDialogOptions{
			DefaultFilename: defaultFilename,
			Title:           "导出封面",
			Filters: []runtime.FileFilter{
				{DisplayName: "PNG Image (*.png)", Pattern: "*.png"},
				{DisplayName: "JPEG Image (*.jpg)", Pattern: "*.jpg;*.jpeg"},
				{DisplayName: "WebP Image (*.webp)", Pattern: "*.webp"},
				{DisplayName: "All Images", Pattern: "*.png;*.jpg;*.jpeg;*.webp"},
			},
		})
		if err != nil {
			return "", fmt.Errorf("save dialog error: %w", err)
		}
		// 用户取消了保存
		if filePath == "" {
			return "", nil
		}
	}

	imageData, err := f.resolveImageBytes(image)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filePath, imageData, 0644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return filePath, nil
}

// ExportCoverBatch 批量导出封面到用户选择的目录
// imagesJSON: 格式为 [{"image": "...", "name": "..."}] 的 JSON 数组
// 返回保存结果的 JSON：{"directory": "...", "files": [...], "count": n}
func (f *FileService) ExportCoverBatch(imagesJSON string) (string, error) {
	if f.ctx == nil {
		return "", fmt.Errorf("service not initialized")
	}

	var items []struct {
		Image string `json:"image"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal([]byte(imagesJSON), &items); err != nil {
		return "", fmt.Errorf("invalid batch data: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("no images to export")
	}

	dirPath, err := runtime.OpenDirectoryDialog(f.ctx, runtime.OpenDialogOptions{
		Title: "选择导出目录",
	})
	if err != nil {
		return "", fmt.Errorf("directory dialog error: %w", err)
	}
	// 用户取消了选择
	if dirPath == "" {
		return "", nil
	}

	savedPaths := make([]string, 0, len(items))
	for i, item := range items {
		imageData, err := f.resolveImageBytes(item.Image)
		if err != nil {
			fmt.Printf("[FileService] Warning: skip image %d: %v\n", i, err)
			continue
		}

		fileName := item.Name
		if fileName == "" {
			fileName = fmt.Sprintf("cover-%d.png", i+1)
		}
		filePath := filepath.Join(dirPath, fileName)

		if err := os.WriteFile(filePath, imageData, 0644); err != nil {
			fmt.Printf("[FileService] Warning: failed to write %s: %v\n", fileName, err)
			continue
		}
		savedPaths = append(savedPaths, filePath)
	}

	result := struct {
		Directory string   `json:"directory"`
		Files     []string `json:"files"`
		Count     int      `json:"count"`
	}{
		Directory: dirPath,
		Files:     savedPaths,
		Count:     len(savedPaths),
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	return string(resultJSON), nil
}
