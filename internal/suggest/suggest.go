// Package suggest file: internal/suggest/suggest.go
//
// 精选的自然语言示例提示词。内容由产品侧维护在一个 YAML 文件里，
// 文件变更通过 fsnotify 热加载，改提示词不需要重启网关。
package suggest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const debounceDuration = 300 * time.Millisecond

// defaultSuggestions 在文件缺失或解析失败时兜底。
var defaultSuggestions = []string{
	"显示最近 30 天创建的联系人",
	"统计每个销售负责人名下的联系人数量",
	"找出没有填写邮箱的联系人",
	"列出打开率最高的 10 个外联活动",
}

type suggestionsFile struct {
	Suggestions []string `yaml:"suggestions"`
}

// Service 持有当前的提示词列表并监视文件变更。
type Service struct {
	path string

	mu          sync.RWMutex
	suggestions []string

	timerMu sync.Mutex
	timer   *time.Timer
}

// New 创建服务并做一次初始加载。文件不存在不是错误，使用内置默认值。
func New(path string) *Service {
	s := &Service{path: path, suggestions: defaultSuggestions}
	if path != "" {
		if err := s.reload(); err != nil {
			slog.Warn("初始加载提示词文件失败，使用默认值", "path", path, "error", err)
		}
	}
	return s
}

// Suggestions 返回当前提示词列表的副本。
func (s *Service) Suggestions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.suggestions))
	copy(out, s.suggestions)
	return out
}

// StartWatcher 监视提示词文件所在目录，写入事件防抖后触发重载。
func (s *Service) StartWatcher() error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 fsnotify watcher 失败: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					s.debouncedReload()
				}
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("提示词文件监视器报告错误", "error", errWatch)
			}
		}
	}()

	// 监视目录而不是文件本身：编辑器的原子替换会让文件级 watch 失效
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("添加提示词目录到监视器失败: %w", err)
	}
	slog.Info("提示词文件监视已启动", "path", s.path)
	return nil
}

// debouncedReload 合并编辑器保存时的连续写事件。
func (s *Service) debouncedReload() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDuration, func() {
		if err := s.reload(); err != nil {
			slog.Error("重载提示词文件失败，保留当前列表", "path", s.path, "error", err)
			return
		}
		slog.Info("提示词文件已重载", "path", s.path)
	})
}

func (s *Service) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var parsed suggestionsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("解析提示词 YAML 失败: %w", err)
	}
	if len(parsed.Suggestions) == 0 {
		return fmt.Errorf("提示词文件为空")
	}
	s.mu.Lock()
	s.suggestions = parsed.Suggestions
	s.mu.Unlock()
	return nil
}
