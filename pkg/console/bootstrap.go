package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// Connect 通过终端服务器建立控制台会话：
// 1) 拨号认证并打开交互 Shell（失败直接返回，不重试）
// 2) 等待稳定期后读取横幅，发现 <CTRL>Z 标记时发送回车尝试恢复
// 3) 探测提示符（detector 为空时使用 DefaultPrompt）
// 4) 创建会话并清空残留输出
// 返回的 Transport 需由调用方在 Disconnect 之后单独关闭
func Connect(ctx context.Context, dialer Dialer, target Target, opts Options, detector PromptDetector) (*Session, Transport, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	log := logger.WithFields(logrus.Fields{"target": target.String()})

	log.Info("Console: connecting to ACS terminal server")
	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	transport, err := dialer.Dial(dialCtx, target)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", target.Address(), err)
	}
	log.Info("Console: connection established")

	raw, err := transport.OpenShell()
	if err != nil {
		_ = transport.Close()
		return nil, nil, fmt.Errorf("failed to open shell on %s: %w", target.Address(), err)
	}
	log.Info("Console: shell session started")
	ch := newLoggedChannel(raw, opts.SessionLog)

	// 横幅检查：仅做一次快照，不保留到会话
	time.Sleep(opts.BannerSettle)
	banner := Drain(ch)
	if strings.Contains(banner, StuckSessionMarker) {
		log.Info("Console: detected <CTRL>Z banner, sending RETURN")
		if err := ch.Send(nudgeSequence); err != nil {
			log.Warnf("Console: stuck session nudge failed: %v", err)
		}
		time.Sleep(opts.RecoveryWait)
	}

	prompt := DefaultPrompt
	if detector != nil {
		prompt = detector.DetectPrompt(ch)
	}
	log.Infof("Console: using prompt %q", prompt)

	sess, err := NewSession(ch, prompt, opts)
	if err != nil {
		_ = raw.Close()
		_ = transport.Close()
		return nil, nil, err
	}
	sess.clearBuffer()
	return sess, transport, nil
}
