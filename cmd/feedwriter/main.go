package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/betbot/bucketmm/clob/client"
	"github.com/betbot/bucketmm/internal/config"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/feed"
	"github.com/betbot/bucketmm/internal/sched"
	"github.com/betbot/bucketmm/pkg/logger"
	"github.com/betbot/bucketmm/pkg/marketspec"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// resolvePoll 市场上架轮询间隔
const resolvePoll = 2 * time.Second

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "配置文件路径（.yaml/.json，为空时用内置默认值）")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	spec, err := cfg.MarketSpec()
	if err != nil {
		logrus.Errorf("market 配置无效: %v", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	// 独立日志文件，跟主进程分开
	logConfig := logger.Config{
		Level:      cfg.Logging.Level,
		OutputFile: filepath.Join(filepath.Dir(cfg.Logging.File), "feedwriter.log"),
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}
	if err := logger.Init(logConfig); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}

	logrus.Infof("🚀 启动行情写入器: %s-%s-%s", spec.Symbol, spec.Kind, spec.Timeframe)

	shmPath := feed.ShmPath(cfg.Feed.ShmName)
	writer, err := feed.OpenRingWriter(shmPath, cfg.Feed.ShmCapacity)
	if err != nil {
		logrus.Errorf("创建行情共享内存失败: %v", err)
		os.Exit(1)
	}
	defer writer.Close()
	logrus.Infof("共享内存环已就绪: %s (容量 %d)", shmPath, cfg.Feed.ShmCapacity)

	resolver := sched.NewGammaResolver(client.NewGammaClient(cfg.API.GammaHost))
	pump := feed.NewPump(websocket.NewMarketClient(websocket.DefaultConfig()), writer)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("🛑 收到停止信号，正在关闭...")
		rootCancel()
	}()

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- pump.Run(rootCtx)
	}()

	logrus.Info("✅ 行情写入器已启动，按 Ctrl+C 停止")

	// 主循环：每桶解析市场并切换订阅
	for {
		if rootCtx.Err() != nil {
			break
		}

		bucketStart := spec.BucketStartUnix(time.Now())
		bucketEnd := time.Unix(spec.BucketEndUnix(bucketStart), 0)

		market, ok := waitForListing(rootCtx, resolver, spec, bucketStart, bucketEnd)
		if ok {
			if err := pump.SetMarket(market); err != nil {
				logrus.Warnf("⚠️ 订阅市场 %s 失败: %v", market.Slug, err)
			}
		}

		sleepUntil(rootCtx, bucketEnd)
	}

	if err := <-pumpDone; err != nil && !errors.Is(err, context.Canceled) {
		logrus.Errorf("行情泵异常退出: %v", err)
	}
	logrus.Info("✅ 行情写入器已停止")
}

// waitForListing 轮询 gamma 直到目标桶的市场上架；整桶没等到就放弃。
func waitForListing(ctx context.Context, resolver sched.Resolver, spec marketspec.MarketSpec, bucketStart int64, bucketEnd time.Time) (domain.Market, bool) {
	slug := spec.Slug(bucketStart)
	waiting := false

	ticker := time.NewTicker(resolvePoll)
	defer ticker.Stop()

	for {
		if !time.Now().Before(bucketEnd) {
			logrus.Warnf("❌ 整桶未见市场上架: %s", slug)
			return domain.Market{}, false
		}

		opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		market, err := resolver.Resolve(opCtx, slug)
		cancel()

		switch {
		case err == nil:
			market.BucketTS = bucketStart
			logrus.Infof("🎯 市场已上架: %s", market.Slug)
			return market, true
		case errors.Is(err, sched.ErrNotListed):
			if !waiting {
				logrus.Infof("⏳ 市场未上架，轮询等待: %s", slug)
				waiting = true
			}
		case errors.Is(err, context.Canceled):
			return domain.Market{}, false
		default:
			logrus.Warnf("解析市场失败: %v", err)
		}

		select {
		case <-ctx.Done():
			return domain.Market{}, false
		case <-ticker.C:
		}
	}
}

func sleepUntil(ctx context.Context, t time.Time) {
	d := time.Until(t)
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
