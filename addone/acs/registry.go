package acs

import (
	"sort"
	"sync"
)

// 注册中心，按平台名称获取控制台插件
var (
	registryMu sync.RWMutex
	registry   = map[string]Plugin{
		DefaultName: &DefaultPlugin{},
	}
)

// Register 注册一个平台插件，同名覆盖
func Register(name string, plugin Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = plugin
}

// Get 获取指定平台插件，不存在则返回 default
func Get(name string) Plugin {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if p, ok := registry[name]; ok {
		return p
	}
	return registry[DefaultName]
}

// Lookup 获取指定平台插件，ok 表示是否精确命中
func Lookup(name string) (Plugin, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Names 已注册的平台名称（排序）
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
