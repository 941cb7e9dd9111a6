package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"agent-eval/pkg/logging"
)

// Load 加载配置
//  1. 根据 APP_ENV 加载 .env.{env}（dev/test）
//  2. 加载 {env}.yaml
//  3. 环境变量覆盖，构建最终配置
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)
	return buildConfig(env, yamlCfg)
}

// defaultYAMLConfig 代码硬编码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		APIServer: APIServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Driver: "sqlite", Path: "data/agent-eval.db",
			Host: "localhost", Port: 5432, User: "agent_eval", Name: "agent_eval", SSLMode: "disable",
		},
		Redis: RedisConfig{Enabled: true, Host: "localhost", Port: 6379, DB: 0},
		MinIO: MinIOConfig{Endpoint: "localhost:9000", Bucket: "agent-eval"},
		Agent: AgentConfig{BaseURL: "http://localhost:8081/v1/", Timeout: 120 * time.Second, MaxRetries: 2},
		Judge: JudgeConfig{Timeout: 120 * time.Second, MaxRetries: 2},
		Evaluation: EvaluationConfig{
			MaxConcurrentRuns: 16,
			DefaultVersion:    "1.0",
			ActiveTTL:         time.Hour,
			TerminalTTL:       5 * time.Minute,
			ImportBatchSize:   1000,
		},
		Log: defaultLogConfig(),
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
			log.Printf("[config] Failed to parse %s: %v", path, err)
			continue
		}
		cfg.loadedFrom = path
		break
	}
	return cfg
}

// defaultLogConfig 默认日志配置
func defaultLogConfig() logging.Config {
	return logging.Config{Level: "info", Format: "text", Output: "stdout", Component: "api-server"}
}

// buildConfig 合并 YAML 与环境变量
func buildConfig(env Environment, y *yamlConfigInternal) *Config {
	db := y.Database
	db.Password = getEnv("DB_PASSWORD", "")

	redisCfg := y.Redis
	redisCfg.Password = getEnv("REDIS_PASSWORD", "")

	minioCfg := y.MinIO
	minioCfg.AccessKey = getEnv("MINIO_ROOT_USER", "")
	minioCfg.SecretKey = getEnv("MINIO_ROOT_PASSWORD", "")

	judge := y.Judge
	judge.APIKey = getEnv("JUDGE_API_KEY", "")
	judge.URL = getEnv("JUDGE_URL", judge.URL)

	agent := y.Agent
	agent.BaseURL = getEnv("AGENT_BASE_URL", agent.BaseURL)

	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(db, db.Password)
	}

	redisURL := getEnv("REDIS_URL", "")
	if redisURL == "" && redisCfg.Enabled {
		redisURL = buildRedisURL(redisCfg)
	}

	logCfg := y.Log
	logCfg.Level = getEnv("LOG_LEVEL", logCfg.Level)
	logCfg.Format = getEnv("LOG_FORMAT", logCfg.Format)

	cfg := &Config{
		Env:            env,
		DatabaseDriver: detectDatabaseDriver(db.Driver, databaseURL),
		DatabaseURL:    databaseURL,
		RedisURL:       redisURL,
		APIPort:        getEnv("API_PORT", y.APIServer.Port),
		MinIO:          minioCfg,
		Agent:          agent,
		Judge:          judge,
		Evaluation:     y.Evaluation,
		Log:            logCfg,
		ConfigFilePath: y.loadedFrom,
	}
	if n, err := strconv.Atoi(os.Getenv("MAX_CONCURRENT_RUNS")); err == nil && n > 0 {
		cfg.Evaluation.MaxConcurrentRuns = n
	}
	cfg.Evaluation.validate()
	cfg.Agent.validate()
	cfg.Judge.validate()
	return cfg
}

// validate 验证并填充评测默认值
func (e *EvaluationConfig) validate() {
	if e.MaxConcurrentRuns <= 0 {
		e.MaxConcurrentRuns = 16
	}
	if e.DefaultVersion == "" {
		e.DefaultVersion = "1.0"
	}
	if e.ActiveTTL <= 0 {
		e.ActiveTTL = time.Hour
	}
	if e.TerminalTTL <= 0 {
		e.TerminalTTL = 5 * time.Minute
	}
	if e.ImportBatchSize <= 0 {
		e.ImportBatchSize = 1000
	}
}

func (a *AgentConfig) validate() {
	if a.Timeout <= 0 {
		a.Timeout = 120 * time.Second
	}
	if a.MaxRetries < 0 {
		a.MaxRetries = 0
	}
}

func (j *JudgeConfig) validate() {
	if j.Timeout <= 0 {
		j.Timeout = 120 * time.Second
	}
	if j.MaxRetries < 0 {
		j.MaxRetries = 0
	}
}
