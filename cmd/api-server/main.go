// Package main API Server 入口
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"agent-eval/internal/agentapi"
	"agent-eval/internal/apiserver/server"
	"agent-eval/internal/config"
	"agent-eval/internal/evaluation"
	"agent-eval/internal/report"
	"agent-eval/internal/shared/infra"
	"agent-eval/pkg/logging"
)

const (
	shutdownTimeout = 30 * time.Second
	drainTimeout    = 10 * time.Second
)

func main() {
	configDir := flag.String("config", "", "配置文件目录（包含 {env}.yaml）")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	// 加载配置（.env.{env} → {env}.yaml → 环境变量覆盖）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化存储、运行快照、事件流与对象存储
	inf, err := infra.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}
	defer inf.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	agent := agentapi.NewClient(cfg.Agent)
	judge := agentapi.NewJudge(cfg.Judge)
	if cfg.Judge.URL == "" {
		log.Println("Warning: judge.url is empty, every case will fail at scoring")
	}

	evalLog := cfg.Log
	evalLog.Component = "evaluation"

	deps := evaluation.Deps{
		Store:   inf.Storage,
		Cache:   inf.Cache,
		Events:  inf.EventBus,
		Agent:   agent,
		Judge:   judge,
		Metrics: evaluation.NewMetrics(reg),
		Logger:  logging.New(evalLog),
	}
	var archiver *report.Archiver
	if inf.ObjectStore != nil && cfg.Evaluation.ArchiveResults {
		archiver = report.NewArchiver(inf.ObjectStore)
		deps.Archiver = archiver
		log.Printf("Result archive enabled [bucket=%s]", cfg.MinIO.Bucket)
	}
	orch := evaluation.NewOrchestrator(deps, cfg.Evaluation)

	launcher, err := evaluation.NewLauncher(orch, cfg.Evaluation.MaxConcurrentRuns)
	if err != nil {
		log.Fatalf("Failed to create launcher: %v", err)
	}

	h := server.NewHandler(server.Deps{
		Store:           inf.Storage,
		Orchestrator:    orch,
		Launcher:        launcher,
		Agent:           agent,
		Status:          inf.Cache,
		Events:          inf.EventBus,
		Archiver:        archiver,
		ImportBatchSize: cfg.Evaluation.ImportBatchSize,
		Registry:        reg,
		Logger:          logging.New(cfg.Log),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  60 * time.Second, // 评测集上传可能较大
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		// 正在执行的评测在语料边界停止并写入 cancelled 终态
		log.Printf("Stopping evaluation runs... [running=%d]", launcher.Running())
		if err := launcher.Close(drainTimeout); err != nil {
			log.Printf("Launcher close error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	<-done

	fmt.Println("Server stopped")
}
