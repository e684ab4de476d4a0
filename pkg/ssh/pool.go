package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// Pool 跟踪活跃的终端服务器连接
// 控制台端口同一时刻只允许一个会话，因此连接不复用，仅做数量限制与统一回收
type Pool struct {
	config      *Config
	connections map[*pooledConnection]struct{}
	mutex       sync.RWMutex
	maxActive   int
	// slots 在拨号前占位，连接关闭时释放；maxActive 为 0 时为 nil
	slots       *semaphore.Weighted
	stop        chan struct{}
	stopOnce    sync.Once
}

// pooledConnection 池化的连接
type pooledConnection struct {
	*Client
	pool    *Pool
	target  string
	created time.Time
	once    sync.Once
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxActive     int           `yaml:"max_active"`
	CheckInterval time.Duration `yaml:"check_interval"`
	SSHConfig     *Config       `yaml:"ssh"`
}

// PoolStats 连接池统计
type PoolStats struct {
	Active    int      `json:"active"`
	MaxActive int      `json:"max_active"`
	Targets   []string `json:"targets"`
}

// NewPool 创建连接池
func NewPool(config *PoolConfig) *Pool {
	pool := &Pool{
		config:      config.SSHConfig,
		connections: make(map[*pooledConnection]struct{}),
		maxActive:   config.MaxActive,
		stop:        make(chan struct{}),
	}
	if config.MaxActive > 0 {
		pool.slots = semaphore.NewWeighted(int64(config.MaxActive))
	}

	if config.CheckInterval > 0 {
		go pool.cleanup(config.CheckInterval)
	}

	return pool
}

// Dial 实现 console.Dialer，建立新连接并登记
func (p *Pool) Dial(ctx context.Context, target console.Target) (console.Transport, error) {
	if p.slots != nil && !p.slots.TryAcquire(1) {
		return nil, fmt.Errorf("connection pool is full, max active connections: %d", p.maxActive)
	}

	transport, err := NewDialer(p.config).Dial(ctx, target)
	if err != nil {
		p.release()
		return nil, err
	}

	conn := &pooledConnection{
		Client:  transport.(*Client),
		pool:    p,
		target:  target.String(),
		created: time.Now(),
	}
	p.mutex.Lock()
	p.connections[conn] = struct{}{}
	p.mutex.Unlock()
	return conn, nil
}

// Close 关闭连接并从池中移除
func (c *pooledConnection) Close() error {
	var err error
	c.once.Do(func() {
		c.pool.mutex.Lock()
		delete(c.pool.connections, c)
		c.pool.mutex.Unlock()
		c.pool.release()
		err = c.Client.Close()
	})
	return err
}

func (p *Pool) release() {
	if p.slots != nil {
		p.slots.Release(1)
	}
}

// Stats 获取连接池统计信息
func (p *Pool) Stats() PoolStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stats := PoolStats{Active: len(p.connections), MaxActive: p.maxActive}
	for conn := range p.connections {
		stats.Targets = append(stats.Targets, conn.target)
	}
	return stats
}

// Close 关闭所有连接
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mutex.RLock()
	conns := make([]*pooledConnection, 0, len(p.connections))
	for conn := range p.connections {
		conns = append(conns, conn)
	}
	p.mutex.RUnlock()

	var lastErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// cleanup 定期回收已断开的连接
func (p *Pool) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.cleanupDeadConnections()
		}
	}
}

func (p *Pool) cleanupDeadConnections() {
	p.mutex.RLock()
	var dead []*pooledConnection
	for conn := range p.connections {
		if !conn.IsConnected() {
			dead = append(dead, conn)
		}
	}
	p.mutex.RUnlock()

	for _, conn := range dead {
		logger.Warnf("SSH pool: removing dead connection to %s (age %s)", conn.target, time.Since(conn.created).Round(time.Second))
		_ = conn.Close()
	}
}
