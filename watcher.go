package cwrx

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// 编辑器保存往往触发一串事件，合并后再加载
const reloadDebounce = 200 * time.Millisecond

// ConfigWatcher 监视配置文件变更，加载并校验成功后回调
// 无效配置只打日志，旧配置继续生效
type ConfigWatcher struct {
	path     string
	log      *slog.Logger
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewConfigWatcher 创建并启动监视器
// 监视的是文件所在目录：编辑器多用 rename 方式保存，直接监视文件会丢
func NewConfigWatcher(path string, logger *slog.Logger, onChange func(*Config)) (*ConfigWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(path), err)
	}

	w := &ConfigWatcher{
		path:     path,
		log:      logger,
		onChange: onChange,
		watcher:  fsw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *ConfigWatcher) loop() {
	var timer *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "err", err)
		}
	}
}

// reload 重新加载配置，失败时保留旧配置
func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", "path", w.path, "err", err)
		return
	}
	w.log.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close 停止监视
func (w *ConfigWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
