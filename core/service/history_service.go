package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"covergen/core/types"
)

// maxHistoryRecords 历史记录上限，超出时淘汰最旧的记录
const maxHistoryRecords = 100

// CoverRecord 单条生成记录
// 图像以本地引用（images/{hash}.{ext}）存储，不内嵌 base64
type CoverRecord struct {
	ID        string             `json:"id"`
	Request   types.CoverRequest `json:"request"`
	Provider  string             `json:"provider"`
	Model     string             `json:"model"`
	Images    []string           `json:"images"`
	CreatedAt int64              `json:"createdAt"`
}

// CoverHistory 历史记录文档结构
type CoverHistory struct {
	Version   string        `json:"version"`
	UpdatedAt int64         `json:"updatedAt"`
	Records   []CoverRecord `json:"records"`
}

// HistoryService 生成历史服务
// 写入走后台队列，短时间内的多次保存合并为一次落盘
type HistoryService struct {
	ctx          context.Context
	dataDir      string
	historyFile  string
	imageStorage *ImageStorage

	mu      sync.Mutex
	records []CoverRecord

	// 保存队列：dirty 标记待落盘，notify 唤醒后台处理器
	saveQueueOnce sync.Once
	shutdownChan  chan struct{}
	notifyChan    chan struct{}
	pendingMu     sync.Mutex
	dirty         bool

	eventHandlersOnce sync.Once
}

// NewHistoryService 创建历史记录服务实例
func NewHistoryService() *HistoryService {
	return &HistoryService{
		shutdownChan: make(chan struct{}),
		notifyChan:   make(chan struct{}, 20),
	}
}

// Startup 在应用启动时调用
func (h *HistoryService) Startup(ctx context.Context) error {
	h.ctx = ctx

	exeDir, err := getExecutableDir()
	if err != nil {
		return fmt.Errorf("failed to get executable dir: %w", err)
	}
	return h.initialize(ctx, filepath.Join(exeDir, "config"))
}

// initialize 绑定数据目录、加载已有历史并启动后台处理器
// 图像存储先于目录创建绑定，初始化失败后 ImageStorage() 仍返回可安全调用的实例
func (h *HistoryService) initialize(ctx context.Context, dataDir string) error {
	h.dataDir = dataDir
	h.historyFile = filepath.Join(h.dataDir, "cover_history.json")
	h.imageStorage = NewImageStorage(h.dataDir)

	if err := os.MkdirAll(h.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := h.imageStorage.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize image storage: %w", err)
	}

	if err := h.loadFromDisk(); err != nil {
		fmt.Printf("[HistoryService] Warning: failed to load history: %v\n", err)
	}

	h.saveQueueOnce.Do(func() {
		go h.processSaveQueue()
	})
	if ctx != nil {
		h.eventHandlersOnce.Do(func() {
			h.registerEventHandlers(ctx)
		})
	}
	return nil
}

// ImageStorage 返回底层图像存储（资源中间件和文件服务复用）
func (h *HistoryService) ImageStorage() *ImageStorage {
	return h.imageStorage
}

// registerEventHandlers 监听前端通过 EventsEmit 发出的保存请求
// 前端编辑历史（如删除单条记录）后整体推送最新记录列表
func (h *HistoryService) registerEventHandlers(ctx context.Context) {
	runtime.EventsOn(ctx, "history:save", func(data ...interface{}) {
		if len(data) == 0 {
			return
		}
		recordsJSON, ok := data[0].(string)
		if !ok || recordsJSON == "" {
			return
		}

		// 限制数据大小，防止异常的前端负载占满内存
		const maxDataSize = 20 * 1024 * 1024
		if len(recordsJSON) > maxDataSize {
			fmt.Printf("[HistoryService] [ERROR] 历史数据过大: %d bytes，忽略本次保存\n", len(recordsJSON))
			return
		}

		var records []CoverRecord
		if err := json.Unmarshal([]byte(recordsJSON), &records); err != nil {
			fmt.Printf("[HistoryService] Warning: invalid history payload: %v\n", err)
			return
		}

		h.mu.Lock()
		h.records = records
		h.mu.Unlock()
		h.scheduleSave()
	})
}

// Shutdown 在应用关闭时调用，落盘所有待保存的数据
func (h *HistoryService) Shutdown() error {
	close(h.shutdownChan)
	return nil
}

// Append 追加一条生成记录并调度保存
// 记录中的图像先转换为本地引用，data URL 和远端 URL 均落地存储
func (h *HistoryService) Append(record CoverRecord) error {
	refs, err := h.imageStorage.StoreAll(record.Images)
	if err != nil {
		return fmt.Errorf("failed to store record images: %w", err)
	}
	record.Images = refs

	// 请求里携带的输入图也转为引用，避免历史文件膨胀
	if record.Request.SubjectImage != "" {
		if ref, err := h.imageStorage.Store(record.Request.SubjectImage); err == nil {
			record.Request.SubjectImage = ref
		} else {
			record.Request.SubjectImage = ""
		}
	}
	if record.Request.ReferenceImage != "" {
		if ref, err := h.imageStorage.Store(record.Request.ReferenceImage); err == nil {
			record.Request.ReferenceImage = ref
		} else {
			record.Request.ReferenceImage = ""
		}
	}

	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}

	h.mu.Lock()
	h.records = append(h.records, record)
	if len(h.records) > maxHistoryRecords {
		h.records = h.records[len(h.records)-maxHistoryRecords:]
	}
	h.mu.Unlock()

	h.scheduleSave()
	return nil
}

// LoadHistory 加载历史记录，返回 JSON 格式的记录数组
func (h *HistoryService) LoadHistory() (string, error) {
	h.mu.Lock()
	records := make([]CoverRecord, len(h.records))
	copy(records, h.records)
	h.mu.Unlock()

	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to serialize history: %w", err)
	}
	return string(data), nil
}

// ClearHistory 清空历史记录并回收不再被引用的图像文件
func (h *HistoryService) ClearHistory() error {
	h.mu.Lock()
	h.records = nil
	h.mu.Unlock()

	if err := os.Remove(h.historyFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove history file: %w", err)
	}
	if err := h.imageStorage.CleanupUnused(map[string]bool{}); err != nil {
		fmt.Printf("[HistoryService] Warning: failed to cleanup images: %v\n", err)
	}
	return nil
}

// ==================== 保存队列 ====================

// scheduleSave 标记有数据待落盘并以非阻塞方式通知后台处理器
// 通道满时丢弃通知是安全的：dirty 标记保证数据最终由定时器落盘
func (h *HistoryService) scheduleSave() {
	h.pendingMu.Lock()
	h.dirty = true
	h.pendingMu.Unlock()

	select {
	case h.notifyChan <- struct{}{}:
	default:
	}
}

// processSaveQueue 后台保存处理器
// 合并短时间内的多次保存，降低文件写入频率
func (h *HistoryService) processSaveQueue() {
	fmt.Printf("[HistoryService] 历史记录保存队列处理 goroutine 启动\n")

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.flushIfDirty()
		case <-h.notifyChan:
			// 稍作等待让更多请求合并
			time.Sleep(150 * time.Millisecond)
			h.flushIfDirty()
		case <-h.shutdownChan:
			fmt.Printf("[HistoryService] 历史记录保存队列处理 goroutine 停止\n")
			h.flushIfDirty()
			return
		}
	}
}

// flushIfDirty 有待保存数据时执行一次同步落盘
func (h *HistoryService) flushIfDirty() {
	h.pendingMu.Lock()
	dirty := h.dirty
	h.dirty = false
	h.pendingMu.Unlock()

	if !dirty {
		return
	}

	start := time.Now()
	err := h.saveSync()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		fmt.Printf("[HistoryService] [PERF] 历史保存耗时: %v\n", elapsed)
	}

	if err != nil {
		fmt.Printf("[HistoryService] Error: failed to save history: %v\n", err)
		if h.ctx != nil {
			runtime.EventsEmit(h.ctx, "history:save-error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// saveSync 同步保存历史记录（临时文件 + 原子重命名）
func (h *HistoryService) saveSync() error {
	h.mu.Lock()
	records := make([]CoverRecord, len(h.records))
	copy(records, h.records)
	h.mu.Unlock()

	history := CoverHistory{
		Version:   "1.0",
		UpdatedAt: time.Now().Unix(),
		Records:   records,
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to serialize history: %w", err)
	}

	tempFile := h.historyFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp history file: %w", err)
	}
	if err := os.Rename(tempFile, h.historyFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename history file: %w", err)
	}
	return nil
}

// loadFromDisk 启动时加载历史记录
// 文件不存在时从空历史开始；非本地引用的图像条目被丢弃
func (h *HistoryService) loadFromDisk() error {
	data, err := os.ReadFile(h.historyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history file: %w", err)
	}

	var history CoverHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return fmt.Errorf("invalid history file format: %w", err)
	}

	for i := range history.Records {
		filtered := history.Records[i].Images[:0]
		for _, ref := range history.Records[i].Images {
			if strings.HasPrefix(ref, "images/") {
				filtered = append(filtered, ref)
				continue
			}
			if strings.HasPrefix(ref, "/images/") {
				filtered = append(filtered, strings.TrimPrefix(ref, "/"))
				continue
			}
			if ref != "" {
				fmt.Printf("[HistoryService] Warning: drop non-local image in record %s\n", history.Records[i].ID)
			}
		}
		history.Records[i].Images = filtered
	}

	h.mu.Lock()
	h.records = history.Records
	h.mu.Unlock()
	return nil
}
