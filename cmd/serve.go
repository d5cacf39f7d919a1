package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhangcong2019/hsf-pipeline/internal/config"
	"github.com/zhangcong2019/hsf-pipeline/internal/grpcserver"
	"github.com/zhangcong2019/hsf-pipeline/internal/httpserver"
	"github.com/zhangcong2019/hsf-pipeline/internal/log"
	"github.com/zhangcong2019/hsf-pipeline/internal/manager"
	"github.com/zhangcong2019/hsf-pipeline/internal/metrics"
)

// serveCmd starts both server frontends and their PipelineManagers in
// one foreground process. A SIGINT handler triggers graceful shutdown:
// stop both server frontends, then both pipeline managers, then exit.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC pipeline orchestration frontends",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if err := log.Init(cfg.Service); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"rest_addr":    cfg.RESTAddr(),
		"grpc_addr":    cfg.GRPCAddr(),
		"metrics_addr": cfg.MetricsAddr(),
	}).Info("hsf-pipeline starting")

	metrics.WeightBudgetTotal.Set(float64(cfg.Pipeline.MaxConcurrentWorkload) * 2)

	mgrCfg := manager.Config{
		MaxConcurrentWorkload: cfg.Pipeline.MaxConcurrentWorkload,
		MaxPipelineLifetime:   time.Duration(cfg.Pipeline.MaxPipelineLifetimeSecs) * time.Second,
		PoolSize:              cfg.Pipeline.PipelineManagerPoolSize,
	}

	// One PipelineManager variant per transport.
	httpMgr := manager.New(mgrCfg)
	grpcMgr := manager.New(mgrCfg)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpMgr.Start(runCtx)
	grpcMgr.Start(runCtx)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr(), "/metrics")
	if err := metricsSrv.Start(runCtx); err != nil {
		return err
	}

	httpSrv := httpserver.NewServer(cfg.RESTAddr(), httpMgr)
	if err := httpSrv.Start(runCtx); err != nil {
		return err
	}

	grpcSrv := grpcserver.NewServer(cfg.GRPCAddr(), grpcMgr)
	if err := grpcSrv.Start(runCtx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutdown signal received, stopping frontends")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpSrv.Stop(shutdownCtx)
	grpcSrv.Stop()
	_ = metricsSrv.Stop(shutdownCtx)

	httpMgr.Stop()
	grpcMgr.Stop()

	logrus.Info("hsf-pipeline stopped")
	return nil
}
