package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// reloadDebounce 编辑器保存时往往连续产生多个事件
const reloadDebounce = 300 * time.Millisecond

// Watch 监听配置文件变化，去抖后重新加载并回调，ctx 取消时退出
// 加载失败只记录日志，保留旧配置
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch init failed: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("config watch add failed: %w", err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		trigger := func() {
			cfg, err := Load(path)
			if err != nil {
				logger.Warnf("Config reload failed: %v", err)
				return
			}
			logger.Info("Config reloaded")
			onChange(cfg)
		}
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(reloadDebounce, trigger)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("Config watch error: %v", err)
			}
		}
	}()
	return nil
}
