package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// Config SSH配置
type Config struct {
	Timeout   time.Duration `yaml:"timeout"`
	KeepAlive time.Duration `yaml:"keep_alive"`
	// KnownHostsFile 为空时不校验主机密钥（终端服务器多为自签名）
	KnownHostsFile string `yaml:"known_hosts_file"`
	// TermTypes PTY 终端类型，按顺序回退
	TermTypes  []string `yaml:"term_types"`
	TermWidth  int      `yaml:"term_width"`
	TermHeight int      `yaml:"term_height"`
	// Charset 设备输出编码，空为 UTF-8
	Charset string `yaml:"charset"`
}

// Client SSH客户端（到终端服务器的一条连接）
type Client struct {
	config     *Config
	connection *ssh.Client
	mutex      sync.RWMutex
	cancel     context.CancelFunc
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewClient 创建SSH客户端
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	return &Client{config: config}
}

// Connect 连接SSH服务器
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return err
	}

	// 构建SSH配置
	sshConfig := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.Timeout,
		Config: ssh.Config{
			// 支持旧版本的密钥交换算法（老款终端服务器固件）
			KeyExchanges: []string{
				"curve25519-sha256",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			// 支持旧版本的加密算法
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"aes192-cbc",
				"aes256-cbc",
				"3des-cbc",
			},
			// 支持旧版本的MAC算法
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		// 支持旧版本主机密钥算法
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"ssh-ed25519",
		},
	}

	// 同时尝试 password 与 keyboard-interactive，Avocent 等终端服务器常用后者
	sshConfig.Auth = []ssh.AuthMethod{
		ssh.Password(info.Password),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = info.Password
			}
			return answers, nil
		}),
	}

	address := net.JoinHostPort(info.Host, fmt.Sprint(info.Port))

	// 使用context控制连接超时
	dialer := &net.Dialer{
		Timeout: c.config.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	// 握手阶段同样受 ctx 截止时间约束
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.connection = ssh.NewClient(sshConn, chans, reqs)

	// 启动保活机制，生命周期与连接一致而非与拨号 ctx 一致
	kaCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.keepAlive(kaCtx)

	return nil
}

// hostKeyCallback 配置了 known_hosts 时严格校验，否则忽略
func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.config.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", c.config.KnownHostsFile, err)
	}
	return cb, nil
}

// OpenShell 打开交互式 Shell 通道
func (c *Client) OpenShell() (console.Channel, error) {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("SSH connection not established")
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 设置终端模式（启用回显，兼容网络设备CLI）
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	terms := c.config.TermTypes
	if len(terms) == 0 {
		terms = []string{"vt100", "xterm", "ansi", "dumb"}
	}
	width, height := c.config.TermWidth, c.config.TermHeight
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	var ptyErr error
	for _, term := range terms {
		if ptyErr = session.RequestPty(term, height, width, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	ch, err := newShellChannel(session, c.config.Charset)
	if err != nil {
		session.Close()
		return nil, err
	}
	return ch, nil
}

// Close 关闭SSH连接
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.connection != nil {
		err := c.connection.Close()
		c.connection = nil
		// 对端已断开时底层连接可能先被关闭
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return false
	}
	// 轻量级健康检查：发送 keepalive 请求而不创建会话
	_, _, err := conn.SendRequest("keepalive@openssh.com", false, nil)
	return err == nil
}

// keepAlive 保持连接活跃
func (c *Client) keepAlive(ctx context.Context) {
	if c.config.KeepAlive <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				logger.Warn("SSH keepalive failed, connection lost")
				return
			}
		}
	}
}

// Dialer 实现 console.Dialer，每次拨号建立一条新的 SSH 连接
type Dialer struct {
	Config *Config
}

// NewDialer 创建拨号器
func NewDialer(config *Config) *Dialer {
	return &Dialer{Config: config}
}

// Dial 连接终端服务器并完成认证
func (d *Dialer) Dial(ctx context.Context, target console.Target) (console.Transport, error) {
	client := NewClient(d.Config)
	port := target.Port
	if port <= 0 {
		port = 22
	}
	err := client.Connect(ctx, &ConnectionInfo{
		Host:     target.Host,
		Port:     port,
		Username: target.Login(),
		Password: target.Password,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
