package console

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Channel 交互式 Shell 的字节流通道
// 接收方法不得阻塞：没有待读数据时 ReceiveIfReady 立即返回空串
type Channel interface {
	// Send 以原始字节写入文本
	Send(text string) error
	// ReceiveIfReady 返回当前已缓冲的数据（已解码，非法字节被丢弃）
	ReceiveIfReady() string
	// IsReadable 当前是否有可读数据
	IsReadable() bool
	// Close 释放通道
	Close() error
}

// StreamStatus 可选接口：通道后台读取结束时 Done 关闭，Err 返回非 EOF 的原因
type StreamStatus interface {
	Done() <-chan struct{}
	Err() error
}

// streamEnded 通道实现 StreamStatus 且输出流已结束时返回 true 及原因
func streamEnded(ch Channel) (bool, error) {
	st, ok := ch.(StreamStatus)
	if !ok {
		return false, nil
	}
	select {
	case <-st.Done():
	default:
		return false, nil
	}
	if err := st.Err(); err != nil {
		return true, fmt.Errorf("%w: %w", ErrStreamEnded, err)
	}
	return true, ErrStreamEnded
}

// Transport 已认证的底层连接句柄（例如一条 SSH 连接）
type Transport interface {
	// OpenShell 在连接上打开交互式 Shell 通道
	OpenShell() (Channel, error)
	// Close 关闭底层连接
	Close() error
}

// Dialer 负责建立连接并完成认证
type Dialer interface {
	Dial(ctx context.Context, target Target) (Transport, error)
}

// Target 终端服务器（ACS）连接目标
type Target struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	// ConsolePort 终端服务器上的串口端口号（例如 7001）
	ConsolePort int `json:"console_port,omitempty"`
	// PortSuffixLogin 为 true 时登录名追加 ":<console_port>"（Avocent ACS 约定）
	PortSuffixLogin bool `json:"port_suffix_login,omitempty"`
}

// Address 返回 host:port
func (t Target) Address() string {
	port := t.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Login 返回实际用于认证的用户名
func (t Target) Login() string {
	if t.PortSuffixLogin && t.ConsolePort > 0 && !strings.Contains(t.Username, ":") {
		return fmt.Sprintf("%s:%d", t.Username, t.ConsolePort)
	}
	return t.Username
}

// String 用于日志输出，不包含密码
func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.Login(), t.Address())
}

// Drain 反复非阻塞读取，直到通道上没有立即可读的数据
// 调用前必须已等待过稳定期，否则慢速链路上可能过早判定为"无数据"
func Drain(ch Channel) string {
	var sb strings.Builder
	for ch.IsReadable() {
		data := ch.ReceiveIfReady()
		if data == "" {
			break
		}
		sb.WriteString(data)
	}
	return sb.String()
}

// loggedChannel 将收发的原始内容同步写入会话日志
type loggedChannel struct {
	Channel
	mu  sync.Mutex
	log io.Writer
}

func newLoggedChannel(ch Channel, w io.Writer) Channel {
	if w == nil {
		return ch
	}
	return &loggedChannel{Channel: ch, log: w}
}

func (c *loggedChannel) Send(text string) error {
	err := c.Channel.Send(text)
	if err == nil {
		c.write(text)
	}
	return err
}

func (c *loggedChannel) ReceiveIfReady() string {
	data := c.Channel.ReceiveIfReady()
	if data != "" {
		c.write(data)
	}
	return data
}

// Done 透传底层通道的读取结束信号，底层不支持时永不关闭
func (c *loggedChannel) Done() <-chan struct{} {
	if st, ok := c.Channel.(StreamStatus); ok {
		return st.Done()
	}
	return nil
}

func (c *loggedChannel) Err() error {
	if st, ok := c.Channel.(StreamStatus); ok {
		return st.Err()
	}
	return nil
}

func (c *loggedChannel) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// 会话日志写入失败不影响交互
	_, _ = io.WriteString(c.log, s)
}
