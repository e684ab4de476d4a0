package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/acsconsole/addone/acs"
	"github.com/sshcollectorpro/acsconsole/internal/config"
	"github.com/sshcollectorpro/acsconsole/internal/database"
	"github.com/sshcollectorpro/acsconsole/internal/model"
	"github.com/sshcollectorpro/acsconsole/pkg/console"
	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

// ExecRequest 一次控制台任务请求
type ExecRequest struct {
	Host        string `json:"host" binding:"required"`
	Port        int    `json:"port"`
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password"`
	ConsolePort int    `json:"console_port"`
	// PortSuffixLogin 为空时取配置 acs.port_suffix_login
	PortSuffixLogin *bool    `json:"port_suffix_login"`
	Platform        string   `json:"platform"`
	Commands        []string `json:"commands" binding:"required,min=1"`
	// ReadTimeout 单条命令读取超时（秒），0 使用配置
	ReadTimeout int `json:"read_timeout"`
}

// CommandResult 单条命令结果
type CommandResult struct {
	Command  string `json:"command"`
	Output   string `json:"output"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms"`
}

// ExecResult 任务结果
type ExecResult struct {
	RunID      string          `json:"run_id"`
	Target     string          `json:"target"`
	Platform   string          `json:"platform"`
	Prompt     string          `json:"prompt"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Commands   []CommandResult `json:"commands"`
	Transcript *StoredObject   `json:"transcript,omitempty"`
	Duration   int64           `json:"duration_ms"`
}

// ConsoleService 编排一次控制台任务：连接、关闭分页、执行命令、断开、记录
type ConsoleService struct {
	cfg         atomic.Pointer[config.Config]
	dialer      console.Dialer
	db          *gorm.DB
	transcripts TranscriptWriter
	limiter     *semaphore.Weighted
}

// NewConsoleService 创建服务；db 与 transcripts 可为 nil
func NewConsoleService(cfg *config.Config, dialer console.Dialer, db *gorm.DB, transcripts TranscriptWriter) *ConsoleService {
	limit := cfg.Server.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	s := &ConsoleService{
		dialer:      dialer,
		db:          db,
		transcripts: transcripts,
		limiter:     semaphore.NewWeighted(limit),
	}
	s.cfg.Store(cfg)
	return s
}

// UpdateConfig 热更新配置（时序与会话记录参数），并发上限不变
func (s *ConsoleService) UpdateConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Config 当前配置
func (s *ConsoleService) Config() *config.Config {
	return s.cfg.Load()
}

// DB 历史记录数据库，可能为 nil
func (s *ConsoleService) DB() *gorm.DB {
	return s.db
}

// Target 由请求构造目标
func (s *ConsoleService) Target(req ExecRequest) console.Target {
	suffix := s.Config().ACS.PortSuffixLogin
	if req.PortSuffixLogin != nil {
		suffix = *req.PortSuffixLogin
	}
	return console.Target{
		Host:            req.Host,
		Port:            req.Port,
		Username:        req.Username,
		Password:        req.Password,
		ConsolePort:     req.ConsolePort,
		PortSuffixLogin: suffix,
	}
}

// Execute 执行一次控制台任务
// 连接阶段失败返回 error；连接成功后的命令级失败记录在结果中
func (s *ConsoleService) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if err := s.limiter.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for console slot: %w", err)
	}
	defer s.limiter.Release(1)

	cfg := s.Config()
	target := s.Target(req)
	plugin := acs.Get(req.Platform)
	if req.Platform != "" && plugin.Name() != req.Platform {
		logger.Warnf("Console: unknown platform %q, using %s", req.Platform, plugin.Name())
	}

	start := time.Now()
	result := &ExecResult{
		RunID:    uuid.NewString(),
		Target:   target.String(),
		Platform: plugin.Name(),
		Status:   model.RunStatusRunning,
	}
	log := logger.WithFields(logrus.Fields{"run_id": result.RunID, "target": result.Target, "platform": result.Platform})

	transcript := &lockedBuffer{}
	sessionLog, closeLog := s.sessionLog(cfg, target, transcript)
	defer closeLog()

	opts := acs.Apply(plugin, cfg.ConsoleOptions())
	opts.SessionLog = sessionLog

	s.createRun(result, target, start)

	sess, transport, err := console.Connect(ctx, s.dialer, target, opts, plugin.Detector())
	if err != nil {
		log.Errorf("Console: connect failed: %v", err)
		result.Status = model.RunStatusFailed
		result.Error = err.Error()
		result.Duration = time.Since(start).Milliseconds()
		s.finishRun(ctx, result, target, start, transcript.String())
		return result, err
	}
	result.Prompt = sess.Prompt()

	sess.DisablePaging(ctx)

	readTimeout := cfg.Console.CommandReadTimeout
	if req.ReadTimeout > 0 {
		readTimeout = time.Duration(req.ReadTimeout) * time.Second
	}
	result.Status = model.RunStatusSuccess
	for _, cmd := range req.Commands {
		cmdStart := time.Now()
		out, err := sess.RunCommand(ctx, cmd, readTimeout)
		cr := CommandResult{Command: cmd, Output: out, Status: model.CommandStatusSuccess, Duration: time.Since(cmdStart).Milliseconds()}
		if err != nil {
			cr.Error = err.Error()
			result.Status = model.RunStatusPartial
			if errors.Is(err, console.ErrReadTimeout) {
				cr.Status = model.CommandStatusTimeout
			} else {
				cr.Status = model.CommandStatusFailed
			}
		}
		result.Commands = append(result.Commands, cr)
		if cr.Status == model.CommandStatusFailed {
			// 发送失败或会话不可用，后续命令不再尝试
			log.Warnf("Console: command %q failed, aborting remaining commands: %v", cmd, err)
			break
		}
	}

	if err := sess.Disconnect(); err != nil {
		log.Warnf("Console: close channel failed: %v", err)
	}
	if err := transport.Close(); err != nil {
		log.Warnf("Console: close transport failed: %v", err)
	}

	result.Duration = time.Since(start).Milliseconds()
	s.finishRun(ctx, result, target, start, transcript.String())
	log.Infof("Console: run finished with status %s in %dms", result.Status, result.Duration)
	return result, nil
}

// sessionLog 组合内存记录与可选的落盘会话记录
func (s *ConsoleService) sessionLog(cfg *config.Config, target console.Target, transcript io.Writer) (io.Writer, func()) {
	if !cfg.SessionLog.Enabled {
		return transcript, func() {}
	}
	path := filepath.Join(cfg.SessionLog.Dir, slug(target.Host)+"_"+slug(target.Login())+".log")
	w, err := logger.NewSessionLog(path, cfg.SessionLog.Append, logger.Config{
		MaxSize:    cfg.SessionLog.MaxSize,
		MaxBackups: cfg.SessionLog.MaxBackups,
	})
	if err != nil {
		logger.Warnf("Console: session log disabled: %v", err)
		return transcript, func() {}
	}
	return io.MultiWriter(transcript, w), func() { _ = w.Close() }
}

func (s *ConsoleService) createRun(result *ExecResult, target console.Target, start time.Time) {
	if s.db == nil {
		return
	}
	run := model.ConsoleRun{
		ID:        result.RunID,
		Host:      target.Host,
		Port:      target.Port,
		Login:     target.Login(),
		Platform:  result.Platform,
		Status:    model.RunStatusRunning,
		StartTime: start,
	}
	if err := database.WithRetry(s.db, func(db *gorm.DB) error { return db.Create(&run).Error }, 3, 0); err != nil {
		logger.Warnf("Console: save run %s failed: %v", result.RunID, err)
	}
}

// finishRun 归档会话记录并写入历史
func (s *ConsoleService) finishRun(ctx context.Context, result *ExecResult, target console.Target, start time.Time, transcript string) {
	if s.transcripts != nil && transcript != "" {
		obj, err := s.transcripts.Write(ctx, TranscriptMeta{
			RunID:    result.RunID,
			Host:     target.Host,
			Login:    target.Login(),
			Platform: result.Platform,
			Started:  start,
		}, transcript)
		if err != nil {
			logger.Warnf("Console: archive transcript failed: %v", err)
		} else {
			result.Transcript = &obj
		}
	}

	if s.db == nil {
		return
	}
	updates := map[string]interface{}{
		"prompt":    result.Prompt,
		"status":    result.Status,
		"error_msg": result.Error,
		"end_time":  time.Now(),
		"duration":  result.Duration,
	}
	if result.Transcript != nil {
		updates["transcript_key"] = result.Transcript.URI
	}
	logs := make([]model.CommandLog, 0, len(result.Commands))
	for i, cr := range result.Commands {
		logs = append(logs, model.CommandLog{
			RunID:    result.RunID,
			Seq:      i + 1,
			Command:  cr.Command,
			Output:   cr.Output,
			Status:   cr.Status,
			ErrorMsg: cr.Error,
			Duration: cr.Duration,
		})
	}
	err := database.WithRetry(s.db, func(db *gorm.DB) error {
		if err := db.Model(&model.ConsoleRun{}).Where("id = ?", result.RunID).Updates(updates).Error; err != nil {
			return err
		}
		if len(logs) == 0 {
			return nil
		}
		return db.Create(&logs).Error
	}, 3, 0)
	if err != nil {
		logger.Warnf("Console: save run %s failed: %v", result.RunID, err)
	}
}

// Runs 最近的任务记录，不含命令输出
func (s *ConsoleService) Runs(ctx context.Context, host string, limit int) ([]model.ConsoleRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("history database not configured")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("start_time desc").Limit(limit)
	if host = strings.TrimSpace(host); host != "" {
		q = q.Where("host = ?", host)
	}
	var runs []model.ConsoleRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Run 单个任务记录及其命令
func (s *ConsoleService) Run(ctx context.Context, id string) (*model.ConsoleRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("history database not configured")
	}
	var run model.ConsoleRun
	err := s.db.WithContext(ctx).
		Preload("Commands", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		First(&run, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// lockedBuffer 会话记录缓冲
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
