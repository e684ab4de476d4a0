package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sshcollectorpro/acsconsole/internal/config"
	"github.com/sshcollectorpro/acsconsole/pkg/logger"
)

const transcriptContentType = "text/plain; charset=utf-8"

// TranscriptWriter 会话记录归档
type TranscriptWriter interface {
	Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error)
}

// TranscriptMeta 归档元数据，决定对象路径
type TranscriptMeta struct {
	RunID    string
	Host     string
	Login    string
	Platform string
	Started  time.Time
}

// StoredObject 已写入对象信息
type StoredObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

// objectPath 形如 <host>/<login>/<20060102_150405>_<run>.log
func (m TranscriptMeta) objectPath() string {
	started := m.Started
	if started.IsZero() {
		started = time.Now()
	}
	name := started.Format("20060102_150405")
	if m.RunID != "" {
		name += "_" + slug(m.RunID)
	}
	return path.Join(slug(m.Host), slug(m.Login), name+".log")
}

// NewTranscriptWriter 根据配置创建写入器；backend 为 none 时返回 nil
func NewTranscriptWriter(cfg config.StorageConfig) TranscriptWriter {
	local := &LocalTranscriptWriter{BaseDir: cfg.Local.BaseDir}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "none", "off":
		return nil
	case "minio":
		return &DelegatingTranscriptWriter{local: local, minio: initMinioWriter(cfg.Minio)}
	default:
		return local
	}
}

// DelegatingTranscriptWriter 优先写 MinIO，失败回退本地
type DelegatingTranscriptWriter struct {
	local *LocalTranscriptWriter
	minio *MinioTranscriptWriter
}

func (w *DelegatingTranscriptWriter) Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	if w.minio == nil {
		logger.Warn("MinIO backend selected but client not initialized; falling back to local")
		return w.local.Write(ctx, meta, content)
	}
	obj, err := w.minio.Write(ctx, meta, content)
	if err == nil {
		return obj, nil
	}
	logger.Warnf("MinIO write failed; falling back to local: %v", err)
	objLocal, lerr := w.local.Write(ctx, meta, content)
	if lerr != nil {
		return StoredObject{}, fmt.Errorf("minio write failed: %v; local fallback failed: %w", err, lerr)
	}
	return objLocal, nil
}

// LocalTranscriptWriter 本地文件写入
type LocalTranscriptWriter struct {
	BaseDir string
}

func (w *LocalTranscriptWriter) Write(_ context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	baseDir := strings.TrimSpace(w.BaseDir)
	if baseDir == "" {
		baseDir = "./data/transcripts"
	}
	fullPath := filepath.Join(baseDir, filepath.FromSlash(meta.objectPath()))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
	}

	data := []byte(content)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write file: %w", err)
	}
	return StoredObject{
		URI:         "file://" + fullPath,
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: transcriptContentType,
	}, nil
}

// MinioTranscriptWriter MinIO 对象存储写入
type MinioTranscriptWriter struct {
	cfg           config.MinioConfig
	client        *minio.Client
	endpoint      string
	bucketEnsured bool
}

// initMinioWriter 初始化 MinIO 客户端，配置不完整时返回 nil
func initMinioWriter(cfg config.MinioConfig) *MinioTranscriptWriter {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || cfg.Port <= 0 {
		logger.Warn("MinIO configuration incomplete; host/port missing")
		return nil
	}
	endpoint := net.JoinHostPort(host, fmt.Sprint(cfg.Port))

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   16,
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.Errorf("MinIO client initialization failed: %v", err)
		return nil
	}
	return &MinioTranscriptWriter{cfg: cfg, client: client, endpoint: endpoint}
}

// Write 将会话记录写入 MinIO，失败按退避重试
func (w *MinioTranscriptWriter) Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	bucket := strings.TrimSpace(w.cfg.Bucket)
	if bucket == "" {
		return StoredObject{}, fmt.Errorf("minio bucket not configured")
	}
	objectName := meta.objectPath()
	if p := strings.Trim(w.cfg.Prefix, "/ "); p != "" {
		objectName = path.Join(p, objectName)
	}

	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, bucket, 2); err != nil {
			return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}

	data := []byte(content)
	var lastErr error
	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		attemptCtx, cancel := attemptContext(ctx, 10*time.Second)
		_, err := w.client.PutObject(attemptCtx, bucket, objectName, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: transcriptContentType})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return StoredObject{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object to %s failed after retries: %w", w.endpoint, lastErr)
	}

	return StoredObject{
		URI:         "minio://" + path.Join(bucket, objectName),
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: transcriptContentType,
	}, nil
}

// ensureBucket 校验并创建 bucket，支持有限重试
func (w *MinioTranscriptWriter) ensureBucket(parent context.Context, bucket string, retries int) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := attemptContext(parent, 10*time.Second)
		exists, err := w.client.BucketExists(ctx, bucket)
		if err == nil && !exists {
			err = w.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		}
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}

// attemptContext 构造限时上下文，不超过父上下文剩余时间
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		if remain := time.Until(deadline); remain < prefer {
			return context.WithDeadline(parent, deadline)
		}
	}
	return context.WithTimeout(parent, prefer)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "@", "_").Replace(s)
	s = slugRe.ReplaceAllString(s, "")
	if s == "" {
		s = "unknown"
	}
	return s
}
