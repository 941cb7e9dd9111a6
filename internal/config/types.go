// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在环境变量中（YAML 中不存储任何密码）：
//	DB_PASSWORD、REDIS_PASSWORD、JUDGE_API_KEY、MINIO_ROOT_USER、MINIO_ROOT_PASSWORD。
//
// 配置路径确定策略：
//  1. --config 命令行参数（显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/agent-eval/
//     - dev/test → ./configs/
package config

import (
	"time"

	"agent-eval/pkg/logging"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer  APIServerConfig  `yaml:"api_server"` // API Server 端口
	Database   DatabaseConfig   `yaml:"database"`   // 数据库
	Redis      RedisConfig      `yaml:"redis"`      // Redis（运行快照 + 事件流）
	MinIO      MinIOConfig      `yaml:"minio"`      // MinIO 对象存储（结果归档）
	Agent      AgentConfig      `yaml:"agent"`      // 被测 Agent 服务
	Judge      JudgeConfig      `yaml:"judge"`      // 评分服务
	Evaluation EvaluationConfig `yaml:"evaluation"` // 评测编排
	Log        logging.Config   `yaml:"log"`        // 日志
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port string `yaml:"port"` // 监听端口
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" 或 "sqlite"（默认 sqlite）
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig Redis 配置
//
// Enabled 为 false 时运行快照使用进程内缓存，事件流关闭。
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`  // 是否使用 HTTPS
	Bucket    string `yaml:"bucket"`   // 默认 bucket 名称
}

// AgentConfig 被测 Agent 服务配置
//
// 凭据不在此处：每次触发评测时由调用方提供。
type AgentConfig struct {
	BaseURL    string        `yaml:"base_url"`    // 例如 http://agent.local/v1/
	Timeout    time.Duration `yaml:"timeout"`     // 单次调用超时
	MaxRetries int           `yaml:"max_retries"` // 建立请求阶段的最大重试次数
}

// JudgeConfig 评分服务配置
type JudgeConfig struct {
	URL        string        `yaml:"url"` // 完整 chat-messages 地址
	APIKey     string        `yaml:"-"`   // 只从 JUDGE_API_KEY 环境变量读取
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// EvaluationConfig 评测编排配置
type EvaluationConfig struct {
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"` // 同时执行的评测数上限
	DefaultVersion    string        `yaml:"default_version"`     // 无法获取 Agent 版本时的默认值
	ActiveTTL         time.Duration `yaml:"active_ttl"`          // 执行中快照 TTL
	TerminalTTL       time.Duration `yaml:"terminal_ttl"`        // 终态快照 TTL
	ArchiveResults    bool          `yaml:"archive_results"`     // 结束后上传结果表格到对象存储
	ImportBatchSize   int           `yaml:"import_batch_size"`   // 语料导入批大小
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres" 或 "sqlite"
	DatabaseURL    string
	RedisURL       string // 为空表示未启用 Redis
	APIPort        string
	MinIO          MinIOConfig
	Agent          AgentConfig
	Judge          JudgeConfig
	Evaluation     EvaluationConfig
	Log            logging.Config
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
