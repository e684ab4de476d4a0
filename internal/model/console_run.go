package model

import (
	"time"
)

// ConsoleRun 一次控制台任务（连接、执行命令、断开）
type ConsoleRun struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Host     string `json:"host" gorm:"type:varchar(128);not null;index"`
	Port     int    `json:"port" gorm:"not null;default:22"`
	Login    string `json:"login" gorm:"type:varchar(128);not null"`
	Platform string `json:"platform" gorm:"type:varchar(32);not null"`
	// Prompt 探测到的提示符
	Prompt        string    `json:"prompt" gorm:"type:varchar(128)"`
	Status        string    `json:"status" gorm:"type:varchar(16);not null;default:'running'"`
	ErrorMsg      string    `json:"error_msg" gorm:"type:text"`
	TranscriptKey string    `json:"transcript_key" gorm:"type:varchar(512)"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Duration      int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Commands []CommandLog `json:"commands,omitempty" gorm:"foreignKey:RunID"`
}

// TableName 表名
func (ConsoleRun) TableName() string {
	return "console_runs"
}

// 任务状态
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	// RunStatusPartial 至少一条命令读取超时或失败
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// CommandLog 单条命令的执行记录
type CommandLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Seq       int       `json:"seq" gorm:"not null"`
	Command   string    `json:"command" gorm:"type:text;not null"`
	Output    string    `json:"output" gorm:"type:text"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null"`
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	Duration  int64     `json:"duration"` // 毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (CommandLog) TableName() string {
	return "command_logs"
}

// 命令状态
const (
	CommandStatusSuccess = "success"
	CommandStatusTimeout = "timeout"
	CommandStatusFailed  = "failed"
)
