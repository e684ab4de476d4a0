// Package simulate 提供一个模拟 ACS 终端服务器的 SSH 服务，用于联调与测试
package simulate

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// Config 模拟服务配置
type Config struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// HostKeyFile 为空时每次启动生成临时密钥
	HostKeyFile string `mapstructure:"host_key_file"`
	Banner      string `mapstructure:"banner"`
	// StuckSession 模拟端口被上次会话占用：输出 <CTRL>Z 提示并等待回车
	StuckSession bool   `mapstructure:"stuck_session"`
	Hostname     string `mapstructure:"hostname"`
	PromptSuffix string `mapstructure:"prompt_suffix"`
	// Commands 命令 -> 输出，行尾统一为 CRLF
	Commands map[string]string `mapstructure:"commands"`
	MaxConn  int               `mapstructure:"max_conn"`
}

// DefaultConfig 返回一台 Cisco 风格设备挂在 ACS 7001 端口后的配置
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:0",
		Username:     "admin",
		Password:     "avocent",
		Banner:       "Welcome to Avocent ACS 6000\r\n",
		Hostname:     "ce-01",
		PromptSuffix: "#",
		Commands: map[string]string{
			"terminal length 0": "",
			"show version":      "Cisco IOS Software, Version 15.2(4)M\nce-01 uptime is 3 weeks, 2 days\n",
			"show clock":        "*12:00:00.000 UTC Mon Jan 1 2024\n",
		},
	}
}

// LoadConfig 读取模拟器 yaml 配置，未设置的字段取 DefaultConfig
func LoadConfig(path string) (*Config, error) {
	def := DefaultConfig()
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("addr", def.Addr)
	v.SetDefault("username", def.Username)
	v.SetDefault("password", def.Password)
	v.SetDefault("banner", def.Banner)
	v.SetDefault("hostname", def.Hostname)
	v.SetDefault("prompt_suffix", def.PromptSuffix)
	v.SetDefault("commands", def.Commands)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// Server 模拟 ACS 终端服务器
type Server struct {
	cfg      Config
	listener net.Listener
	hostKey  ssh.Signer
	active   int
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// Start 监听并开始接受连接
func Start(cfg Config) (*Server, error) {
	signer, err := loadOrCreateHostKey(cfg.HostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, listener: ln, hostKey: signer}
	logger.Infof("Simulate: ACS listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port 实际监听端口
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Stop 停止监听并等待所有会话结束
func (s *Server) Stop() {
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// listener closed
			return
		}
		s.mu.Lock()
		if s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn {
			s.mu.Unlock()
			_ = conn.Close()
			logger.Warnf("Simulate: reject %s, max_conn exceeded", conn.RemoteAddr())
			continue
		}
		s.active++
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
		}(conn)
	}
}

// checkUser 接受 "user" 或 Avocent 风格的 "user:port"
func (s *Server) checkUser(user string) bool {
	name, _, _ := strings.Cut(user, ":")
	return s.cfg.Username == "" || name == s.cfg.Username
}

func (s *Server) handleConn(nc net.Conn) {
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if s.checkUser(meta.User()) && string(password) == s.cfg.Password {
				return nil, nil
			}
			logger.Debugf("Simulate: auth failed (password) for %s", meta.User())
			return nil, fmt.Errorf("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if s.checkUser(meta.User()) && len(answers) > 0 && answers[0] == s.cfg.Password {
				return nil, nil
			}
			logger.Debugf("Simulate: auth failed (keyboard-interactive) for %s", meta.User())
			return nil, fmt.Errorf("access denied")
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		logger.Debugf("Simulate: SSH handshake with %s failed: %v", nc.RemoteAddr(), err)
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			logger.Errorf("Simulate: channel accept failed: %v", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleSession(channel, requests, conn)
		}()
	}
	wg.Wait()
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, conn *ssh.ServerConn) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			s.runConsole(channel)
			_ = conn.Close()
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// runConsole 模拟串口另一端的设备 CLI：逐字节回显，按行执行
func (s *Server) runConsole(rw io.ReadWriter) {
	prompt := s.cfg.Hostname + s.cfg.PromptSuffix
	write := func(text string) { _, _ = io.WriteString(rw, text) }

	write(s.cfg.Banner)
	attached := !s.cfg.StuckSession
	if !attached {
		write("Port busy: session detached, press <CTRL>Z to return to menu\r\n")
	} else {
		write("\r\n" + prompt)
	}

	reader := bufio.NewReader(rw)
	var line strings.Builder
	for {
		b, err := reader.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugf("Simulate: console read error: %v", err)
			}
			return
		}
		switch b {
		case 0x1a:
			write("^Z\r\n" + prompt)
			line.Reset()
		case '\r', '\n':
			if !attached {
				// 第一次回车恢复被占用的会话
				attached = true
				write("\r\n" + prompt)
				line.Reset()
				continue
			}
			cmd := strings.TrimSpace(line.String())
			line.Reset()
			if cmd == "exit" || cmd == "logout" {
				write("\r\nlogout\r\n")
				return
			}
			write("\r\n" + s.output(cmd) + prompt)
		default:
			if attached {
				line.WriteByte(b)
				_, _ = rw.Write([]byte{b})
			}
		}
	}
}

func (s *Server) output(cmd string) string {
	if cmd == "" {
		return ""
	}
	out, ok := s.cfg.Commands[cmd]
	if !ok {
		return "% Invalid input detected at '^' marker.\r\n"
	}
	return ensureCRLF(out)
}

func ensureCRLF(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}

// loadOrCreateHostKey 加载持久化 host key，不存在则生成 ed25519 密钥
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		if bs, err := os.ReadFile(path); err == nil {
			signer, err := ssh.ParsePrivateKey(bs)
			if err == nil {
				return signer, nil
			}
			logger.Warnf("Simulate: host key %s parse failed, regenerating: %v", path, err)
		}
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure host key dir: %w", err)
		}
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write host key: %w", err)
		}
		logger.Infof("Simulate: host key generated at %s", path)
	}
	return ssh.ParsePrivateKey(pemBytes)
}
