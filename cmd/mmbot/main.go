package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/betbot/bucketmm/clob/client"
	"github.com/betbot/bucketmm/clob/signing"
	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/config"
	"github.com/betbot/bucketmm/internal/execution"
	"github.com/betbot/bucketmm/internal/feed"
	"github.com/betbot/bucketmm/internal/journal"
	"github.com/betbot/bucketmm/internal/metrics"
	"github.com/betbot/bucketmm/internal/outcome"
	"github.com/betbot/bucketmm/internal/risk"
	"github.com/betbot/bucketmm/internal/round"
	"github.com/betbot/bucketmm/internal/sched"
	"github.com/betbot/bucketmm/pkg/logger"
	"github.com/betbot/bucketmm/pkg/persistence"
	"github.com/betbot/bucketmm/pkg/secretstore"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// feedOpenWait 等待 feedwriter 把共享内存环建出来的时间预算
const feedOpenWait = 30 * time.Second

func main() {
	var configFile string
	var historyN int
	flag.StringVar(&configFile, "config", "", "配置文件路径（.yaml/.json，为空时用内置默认值）")
	flag.IntVar(&historyN, "history", 0, "打印最近 N 个回合的结果后退出")
	flag.Parse()

	// .env 要在配置加载之前读，PRIVATE_KEY 等环境覆盖才能生效
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
		logrus.Warnf("无效的日志级别 %s，使用默认级别: info", cfg.Logging.Level)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	logConfig := logger.Config{
		Level:      cfg.Logging.Level,
		OutputFile: cfg.Logging.File,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
		LogByCycle: cfg.Logging.ByCycle,
	}
	if err := logger.Init(logConfig); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}
	if cfg.Logging.ByCycle {
		logger.StartLogRotationChecker()
	}

	if historyN > 0 {
		printHistory(cfg, historyN)
		return
	}

	logrus.Infof("🚀 启动桶做市机器人: %s-%s-%s", spec.Symbol, spec.Kind, spec.Timeframe)

	privateKey, err := resolvePrivateKey(cfg)
	if err != nil {
		logrus.Errorf("解析私钥失败: %v", err)
		os.Exit(1)
	}
	logrus.Infof("交易地址: %s", signing.GetAddressFromPrivateKey(privateKey).Hex())

	// root context：信号触发 cancel，调度器自己走完撤单和落盘再返回
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	tempClient := client.NewClient(cfg.API.ClobHost, types.Chain(cfg.API.ChainID), privateKey, nil)
	logrus.Info("推导 API 凭证...")
	creds, err := tempClient.CreateOrDeriveAPIKey(rootCtx, nil)
	if err != nil {
		logrus.Errorf("推导 API 凭证失败: %v", err)
		os.Exit(1)
	}
	logrus.Infof("API 凭证已获取: key=%s...", shortKey(creds.Key))

	clobClient := client.NewClient(cfg.API.ClobHost, types.Chain(cfg.API.ChainID), privateKey, creds)
	dataClient := client.NewDataClient(cfg.API.DataHost)
	gammaClient := client.NewGammaClient(cfg.API.GammaHost)

	// 用户 WS：成交推给执行层做入账，订单回报推给调度器做状态同步
	userClient, err := websocket.NewUserClient(creds, websocket.DefaultConfig())
	if err != nil {
		logrus.Errorf("创建用户数据流失败: %v", err)
		os.Exit(1)
	}
	if err := userClient.Start(rootCtx); err != nil {
		logrus.Errorf("启动用户数据流失败: %v", err)
		os.Exit(1)
	}
	defer userClient.Stop()

	breaker := risk.NewBreaker(risk.BreakerConfig{
		MaxConsecutiveErrors: cfg.Risk.MaxConsecutiveErrors,
		DailyLossLimitCents:  cfg.Risk.DailyLossLimitCents,
	})

	exec := execution.New(clobClient, dataClient, userClient.Trades(), breaker, execution.Options{
		Funder:           cfg.API.FunderAddress,
		SignatureType:    types.SignatureType(cfg.API.SignatureType),
		OwnerAPIKey:      creds.Key,
		PosSizeThreshold: cfg.MicroTuning.RemotePosSizeThreshold,
		RestPollInterval: time.Second,
	})

	// 行情来自 feedwriter 维护的共享内存环，主进程只读
	reader, err := openFeed(rootCtx, cfg)
	if err != nil {
		logrus.Errorf("打开行情共享内存失败: %v", err)
		os.Exit(1)
	}
	defer reader.Close()
	feedCh := feed.NewChannel(reader, time.Duration(cfg.MicroTuning.StaleAfterMs)*time.Millisecond)

	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logrus.Errorf("打开回合 journal 失败: %v", err)
		os.Exit(1)
	}
	defer jnl.Close()

	sinks := []outcome.Sink{jnl}
	if cfg.Outcome.ReportURL != "" {
		sinks = append(sinks, outcome.NewHTTPSink(cfg.Outcome.ReportURL))
		logrus.Infof("回合结果将上报到: %s", cfg.Outcome.ReportURL)
	}

	// 灰尘快照跨进程重启存活，重启后由场前对账消化
	store := persistence.NewJSONFileService("data/persistence").NewStore("mmbot", spec.Symbol, "dust")

	scheduler := sched.New(sched.Deps{
		Spec:     spec,
		Params:   round.ParamsFromConfig(cfg),
		Resolver: sched.NewGammaResolver(gammaClient),
		Exec:     exec,
		Feed:     feedCh,
		Breaker:  breaker,
		Recorder: jnl,
		Sinks:    sinks,
		Store:    store,
		Stream:   userClient,
		Books:    sched.NewClobBooks(clobClient),
	}, sched.Options{
		TickInterval: time.Duration(cfg.MicroTuning.TickIntervalMs) * time.Millisecond,
	})

	// metrics/pprof 默认关闭，环境变量开启
	if addr := metricsAddr(); addr != "" {
		if _, err := metrics.StartAsync(rootCtx, addr); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logrus.Infof("📊 metrics/pprof 启用: listen=%s (expvar:/debug/vars, pprof:/debug/pprof)", addr)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("🛑 收到停止信号，正在关闭...")
		rootCancel()
	}()

	logrus.Info("✅ 机器人已启动，按 Ctrl+C 停止")
	if err := scheduler.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Errorf("调度器异常退出: %v", err)
	}

	logrus.Info("正在停止用户数据流...")
	userClient.Stop()
	logrus.Info("✅ 机器人已停止")
}

// resolvePrivateKey 私钥来源优先级：配置/环境明文 > secretstore 引用 > 助记词兜底。
// secretstore 只在真的要用 key_ref 时才打开。
func resolvePrivateKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	var store *secretstore.Store
	if cfg.API.PrivateKey == "" && cfg.API.KeyRef != "" {
		encKey, err := secretstore.ParseKey(os.Getenv(cfg.Secrets.EncKeyEnv))
		if err != nil {
			return nil, errors.Wrapf(err, "解析加密密钥失败（来自 %s）", cfg.Secrets.EncKeyEnv)
		}
		st, err := secretstore.Open(secretstore.OpenOptions{
			Path:          cfg.Secrets.Path,
			EncryptionKey: encKey,
			ReadOnly:      true,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "打开 secretstore 失败: %s", cfg.Secrets.Path)
		}
		defer st.Close()
		store = st
	}
	if cfg.API.PrivateKey == "" && cfg.API.KeyRef == "" && cfg.API.Mnemonic != "" {
		logrus.Warn("⚠️ 使用助记词推导私钥，建议改用 secretstore 或 PRIVATE_KEY 环境变量")
	}
	return cfg.ResolvePrivateKey(store)
}

// openFeed 打开共享内存环；feedwriter 可能还没起来，等一小会儿再放弃。
func openFeed(ctx context.Context, cfg *config.Config) (*feed.RingReader, error) {
	path := feed.ShmPath(cfg.Feed.ShmName)
	deadline := time.Now().Add(feedOpenWait)
	waiting := false
	for {
		r, err := feed.OpenRingReader(path)
		if err == nil {
			if waiting {
				logrus.Info("✅ 行情共享内存已就绪")
			}
			return r, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.Wrapf(err, "%s（feedwriter 在运行吗？）", path)
		}
		if !waiting {
			logrus.Infof("⏳ 等待行情共享内存就绪: %s", path)
			waiting = true
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func metricsAddr() string {
	if addr := os.Getenv("BUCKETMM_PPROF_ADDR"); addr != "" {
		return addr
	}
	return os.Getenv("METRICS_ADDR")
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12]
}

func printHistory(cfg *config.Config, n int) {
	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logrus.Errorf("打开回合 journal 失败: %v", err)
		os.Exit(1)
	}
	defer jnl.Close()

	recs, err := jnl.RecentRounds(context.Background(), n)
	if err != nil {
		logrus.Errorf("读取回合历史失败: %v", err)
		os.Exit(1)
	}
	if len(recs) == 0 {
		fmt.Println("journal 里还没有回合记录")
		return
	}
	for _, r := range recs {
		ts := time.Unix(r.BucketTS, 0).Format("01-02 15:04")
		leg := r.Leg
		if leg == "" {
			leg = "-"
		}
		fmt.Printf("%s  %-9s leg=%-3s entry=%.2fx%-5.1f cash=%+6.2f dust=%.2f  %s\n",
			ts, r.Result, leg, r.EntryPrice, r.EntrySize, r.CashDeltaUSD, r.DustCarrySize, r.Slug)
	}
}
