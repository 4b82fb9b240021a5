package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SessionReplayKit/internal/attachment"
	"SessionReplayKit/internal/config"
	"SessionReplayKit/internal/httpserver"
	"SessionReplayKit/internal/logger"
	"SessionReplayKit/internal/player"
	"SessionReplayKit/internal/replay"
	"SessionReplayKit/internal/store"
)

func main() {
	configPath := flag.String("config", "", "回放配置文件路径")
	bundlePath := flag.String("bundle", "", "原始附件数据包（JSON）路径")
	flag.Parse()

	logger.InitLogger()

	if *bundlePath == "" {
		log.Fatal("必须指定 -bundle 参数")
	}

	// 广播日志器：控制台UI通过/ws/logs订阅内核日志
	blog := logger.NewBroadcastLogger()

	// 1. 加载配置
	cm := config.NewConfigManager(
		config.WithConfigPath(*configPath),
		config.WithWatchEnabled(*configPath != ""),
	)
	cfg, err := cm.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 读取抓取层交付的原始数据包并归一化
	f, err := os.Open(*bundlePath)
	if err != nil {
		log.Fatalf("打开数据包失败: %v", err)
	}
	bundle, err := attachment.DecodeBundle(f)
	f.Close()
	if err != nil {
		log.Fatalf("解码数据包失败: %v", err)
	}

	model := replay.BuildReplay(bundle.ReplayID, bundle.Records, bundle.StartedAt)
	blog.Infof("replay", model.ReplayID(),
		"归一化完成: 时长 %dms, %d 条时间线记录, %d 个视频分片, 丢弃 %d 条",
		model.DurationMs(), len(model.Timeline()),
		len(model.VideoSegments()), model.DroppedRecords())
	if bundle.Partial {
		blog.Warnf("replay", model.ReplayID(), "数据包被标记为不完整，时间线可能缺失记录")
	}

	// 3. 组装视频控制器与时钟（服务端无头回放用空表面）
	loader := player.NewHTTPSegmentLoader(bundle.SegmentSources, &player.HTTPLoaderConfig{
		RequestTimeout:  time.Duration(cfg.Loader.RequestTimeoutSec) * time.Second,
		MaxRetries:      uint64(cfg.Loader.MaxRetries),
		InitialInterval: 200 * time.Millisecond,
	})
	controller := player.NewSegmentedVideoController(
		model.VideoSegments(),
		player.NewNopSurface,
		loader,
		&player.Options{
			SkipInactive: cfg.Playback.SkipInactive,
			InitialSpeed: cfg.Playback.DefaultSpeed,
		},
	)
	controller.SetFinishedHandler(func() {
		blog.Infof("player", model.ReplayID(), "播放结束")
	})

	clock := player.NewPlaybackClock(&player.ClockConfig{
		TickInterval: time.Duration(cfg.Playback.TickIntervalMs) * time.Millisecond,
		InitialSpeed: cfg.Playback.DefaultSpeed,
	})
	if err := clock.Bind(model, controller); err != nil {
		log.Fatalf("绑定时钟失败: %v", err)
	}
	defer clock.Destroy()

	// 4. 可选的断点续播存储
	var positions *store.PositionStore
	if cfg.Database.Enabled {
		positions, err = store.Connect(context.Background(), &store.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			log.Fatalf("连接断点续播存储失败: %v", err)
		}
		defer positions.Close()
	}

	// 5. 启动控制台API服务
	server := httpserver.NewReplayAPIServer(model, clock, &httpserver.ServerOptions{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		Positions:    positions,
		Logs:         blog,
	})
	if err := server.Start(); err != nil {
		log.Fatalf("启动API服务失败: %v", err)
	}

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("收到退出信号，开始停机...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("停机异常: %v", err)
	}
}
