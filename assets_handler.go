package main

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
)

const imageURLPrefix = "/images/"

// newImageAssetMiddleware 把 /images/ 下的请求转到本地图像存储目录
// 其余请求交回嵌入的前端资源
func newImageAssetMiddleware() assetserver.Middleware {
	imagesDir, dirErr := resolveImagesDir()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cleaned := path.Clean(r.URL.Path)
			if !strings.HasPrefix(cleaned, imageURLPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			if dirErr != nil {
				http.Error(w, "image assets unavailable", http.StatusInternalServerError)
				return
			}
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}

			rel := strings.TrimPrefix(cleaned, imageURLPrefix)
			if rel == "" || strings.Contains(rel, "/") || strings.Contains(rel, "\\") {
				http.NotFound(w, r)
				return
			}

			filePath := filepath.Join(imagesDir, rel)
			info, err := os.Stat(filePath)
			if err != nil || info.IsDir() {
				http.NotFound(w, r)
				return
			}

			// 文件名即内容哈希，可安全地永久缓存
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			w.Header().Set("ETag", fmt.Sprintf("\"%s\"", rel))
			http.ServeFile(w, r, filePath)
		})
	}
}

func resolveImagesDir() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exePath), "config", "images"), nil
}
