// Package sched 按 15 分钟桶驱动做市回合。
//
// 调度器负责回合外的一切：对齐桶边界、等市场上架、场前清理外部
// 仓位、以固定节奏驱动状态机、在回合间传递灰尘并落盘、把回合结果
// 散发给上报端。回合内的每个决策都在 round.Machine 里。
package sched

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/feed"
	"github.com/betbot/bucketmm/internal/ledger"
	"github.com/betbot/bucketmm/internal/metrics"
	"github.com/betbot/bucketmm/internal/outcome"
	"github.com/betbot/bucketmm/internal/ports"
	"github.com/betbot/bucketmm/internal/risk"
	"github.com/betbot/bucketmm/internal/round"
	"github.com/betbot/bucketmm/pkg/logger"
	"github.com/betbot/bucketmm/pkg/marketmath"
	"github.com/betbot/bucketmm/pkg/marketspec"
	"github.com/betbot/bucketmm/pkg/persistence"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
)

var log = logrus.WithField("component", "sched")

const (
	opTimeout     = 10 * time.Second
	reportTimeout = 5 * time.Second
	posEps        = 1e-9
)

// Executor 调度器需要的交易能力：回合状态机的全部操作，外加回合切换
type Executor interface {
	ports.Executor
	BeginRound(market domain.Market, start time.Time)
}

// UserStream 用户频道：按市场订阅成交与订单推送（可选）
type UserStream interface {
	SubscribeMarkets(conditionIDs ...string) error
	UnsubscribeMarkets(conditionIDs ...string)
	Orders() <-chan websocket.UserOrderMessage
}

// Options 调度节奏参数
type Options struct {
	TickInterval    time.Duration // 状态机驱动间隔
	ResolvePoll     time.Duration // 市场上架轮询间隔
	FlattenTimeout  time.Duration // 场前清理的时间预算
	ShutdownTimeout time.Duration // 停机撤单预算
}

func (o *Options) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 200 * time.Millisecond
	}
	if o.ResolvePoll <= 0 {
		o.ResolvePoll = 2 * time.Second
	}
	if o.FlattenTimeout <= 0 {
		o.FlattenTimeout = 8 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 3 * time.Second
	}
}

// Deps 调度器的外部依赖。Stream、Recorder、Sinks、Store、Books 可缺省。
type Deps struct {
	Spec     marketspec.MarketSpec
	Params   round.Params
	Resolver Resolver
	Exec     Executor
	Feed     *feed.Channel
	Breaker  *risk.Breaker
	Recorder ports.RoundRecorder
	Sinks    []outcome.Sink
	Store    persistence.Store
	Stream   UserStream
	Books    BookSource
}

// Scheduler 回合调度器。单 goroutine 驱动，Run 返回即全部停机。
type Scheduler struct {
	spec     marketspec.MarketSpec
	params   round.Params
	resolver Resolver
	exec     Executor
	feed     *feed.Channel
	breaker  *risk.Breaker
	recorder ports.RoundRecorder
	sinks    []outcome.Sink
	store    persistence.Store
	stream   UserStream
	books    BookSource

	opts Options

	dust        domain.Dust
	pendingSnap *dustState
}

// dustState 灰尘快照，重启恢复用
type dustState struct {
	Size     float64   `json:"size"`
	AvgPrice float64   `json:"avg_price"`
	BucketTS int64     `json:"bucket_ts"`
	SavedAt  time.Time `json:"saved_at"`
}

func New(deps Deps, opts Options) *Scheduler {
	opts.applyDefaults()
	s := &Scheduler{
		spec:     deps.Spec,
		params:   deps.Params,
		resolver: deps.Resolver,
		exec:     deps.Exec,
		feed:     deps.Feed,
		breaker:  deps.Breaker,
		recorder: deps.Recorder,
		sinks:    deps.Sinks,
		store:    deps.Store,
		stream:   deps.Stream,
		books:    deps.Books,
		opts:     opts,
	}
	if s.recorder == nil {
		s.recorder = ports.NopRecorder{}
	}
	return s
}

// Dust 当前携带的灰尘（测试与状态巡检用）
func (s *Scheduler) Dust() domain.Dust {
	return s.dust
}

// Run 主循环：一桶一回合，直到 ctx 取消。
func (s *Scheduler) Run(ctx context.Context) error {
	s.restoreDust()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		bucketStart := s.spec.BucketStartUnix(time.Now())
		market, ok, err := s.resolveBucket(ctx, bucketStart)
		if err != nil {
			return err
		}
		if !ok {
			s.reportSkip(ctx, bucketStart)
			continue
		}

		if err := s.runRound(ctx, market, bucketStart); err != nil {
			return err
		}
	}
}

// runRound 跑完一个桶：场前清理、驱动状态机到终结、清点上报，
// 然后睡到桶边界。
func (s *Scheduler) runRound(ctx context.Context, market domain.Market, bucketStart int64) error {
	start := time.Unix(bucketStart, 0)
	end := time.Unix(s.spec.BucketEndUnix(bucketStart), 0)

	logger.SetBucketSlug(market.Slug)
	if err := logger.CheckAndRotateLog(); err != nil {
		log.WithError(err).Warn("日志按桶切换失败")
	}

	s.exec.BeginRound(market, start)
	if s.stream != nil {
		if err := s.stream.SubscribeMarkets(market.ConditionID); err != nil {
			log.WithError(err).Warn("用户频道订阅失败，成交采集退化为 REST 轮询")
		}
		defer s.stream.UnsubscribeMarkets(market.ConditionID)
	}

	metrics.RoundsStarted.Add(1)
	log.WithFields(logrus.Fields{
		"slug":   market.Slug,
		"bucket": bucketStart,
		"dust":   s.dust.Size,
	}).Info("🚀 回合开始")

	startingDust := s.flattenResidual(ctx, market, s.dust, end)
	if err := ctx.Err(); err != nil {
		s.saveDust(startingDust, bucketStart)
		return err
	}
	// 清理期间的成交已经消化完，REST 兜底从现在起重新计数
	s.exec.BeginRound(market, time.Now())

	led := ledger.New()
	mach := round.NewMachine(s.params, market, start, s.exec, led, s.recorder, startingDust)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for !mach.Done() {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
			mach.Shutdown(sctx)
			cancel()
			s.saveDust(mach.DustCarry(), bucketStart)
			return ctx.Err()
		case now := <-ticker.C:
			s.drainOrderEvents(led)
			tob, fs := s.feed.ReadLatest()
			if fs == feed.ReadOK && tob.BucketTS != 0 && tob.BucketTS != bucketStart {
				// 行情写者还停在别的桶，按过期处理
				fs = feed.ReadStale
			}
			mach.Tick(ctx, now, tob, fs)
		}
	}

	rec := mach.Outcome()
	s.dust = mach.DustCarry()
	s.saveDust(s.dust, bucketStart)
	s.settlePnL(rec)
	s.fanOut(ctx, rec)
	metrics.RoundsCompleted.Add(1)
	log.WithFields(logrus.Fields{
		"slug":   market.Slug,
		"result": rec.Result,
		"cash":   rec.CashDeltaUSD,
	}).Info("📊 回合清点完成")

	return s.sleepUntil(ctx, end)
}

// reportSkip 整桶没等到市场上架，记一笔 skip
func (s *Scheduler) reportSkip(ctx context.Context, bucketStart int64) {
	metrics.RoundsSkipped.Add(1)
	rec := outcome.Record{
		Version:           outcome.SchemaVersion,
		BucketTS:          bucketStart,
		Slug:              s.spec.Slug(bucketStart),
		Result:            outcome.ResultSkip,
		DustCarrySize:     s.dust.Size,
		DustCarryAvgPrice: s.dust.AvgPrice,
		StartedAt:         time.Unix(bucketStart, 0),
		EndedAt:           time.Now(),
	}
	s.fanOut(ctx, rec)
}

// fanOut 把回合记录散发给所有上报端。尽力而为，不拖累下一回合。
func (s *Scheduler) fanOut(ctx context.Context, rec outcome.Record) {
	for _, sink := range s.sinks {
		rctx, cancel := context.WithTimeout(ctx, reportTimeout)
		if err := sink.Report(rctx, rec); err != nil {
			log.WithError(err).WithField("bucket", rec.BucketTS).Warn("回合结果上报失败")
		}
		cancel()
	}
}

// settlePnL 平仓收尾的回合把已实现现金流喂给熔断器。
// hold/dust 的盈亏要等链上结算，不计入当日已实现。
func (s *Scheduler) settlePnL(rec outcome.Record) {
	switch rec.Result {
	case outcome.ResultWin, outcome.ResultSl, outcome.ResultLateSl:
	default:
		return
	}
	s.breaker.AddPnLCents(marketmath.UsdToCents(rec.CashDeltaUSD))
}

// drainOrderEvents 把用户频道积压的订单状态推进账本（非阻塞清空）
func (s *Scheduler) drainOrderEvents(led *ledger.Ledger) {
	if s.stream == nil {
		return
	}
	ch := s.stream.Orders()
	if ch == nil {
		return
	}
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if st, mapped := mapOrderEvent(msg); mapped {
				led.ApplyOrderStatus(msg.ID, st)
			}
		default:
			return
		}
	}
}

// mapOrderEvent 订单推送 → 账本状态。下单回执已经登记过订单，
// 这里只关心撤单确认和匹配进度。
func mapOrderEvent(msg websocket.UserOrderMessage) (domain.OrderStatus, bool) {
	kind := strings.ToUpper(msg.Type)
	switch kind {
	case "CANCELLATION":
		return domain.OrderStatusCanceled, true
	case "PLACEMENT", "UPDATE":
		matched, _ := strconv.ParseFloat(msg.SizeMatched, 64)
		orig, _ := strconv.ParseFloat(msg.OriginalSize, 64)
		if orig > 0 && matched >= orig-posEps {
			return domain.OrderStatusFilled, true
		}
		if matched > posEps {
			return domain.OrderStatusPartial, true
		}
		if kind == "PLACEMENT" {
			return domain.OrderStatusOpen, true
		}
		return "", false
	}
	return "", false
}

// saveDust 把灰尘快照落盘，供崩溃重启后对账
func (s *Scheduler) saveDust(d domain.Dust, bucketTS int64) {
	if s.store == nil {
		return
	}
	snap := dustState{
		Size:     d.Size,
		AvgPrice: d.AvgPrice,
		BucketTS: bucketTS,
		SavedAt:  time.Now(),
	}
	if err := s.store.Save(&snap); err != nil {
		log.WithError(err).Warn("灰尘快照落盘失败")
		return
	}
	metrics.SnapshotSaves.Add(1)
}

// restoreDust 启动时读灰尘快照。快照先挂起，等第一次场前对账时
// 由场上仓位决定去留。
func (s *Scheduler) restoreDust() {
	if s.store == nil {
		return
	}
	var snap dustState
	if err := s.store.Load(&snap); err != nil {
		if !errors.Is(err, persistence.ErrNotExists) {
			log.WithError(err).Warn("灰尘快照读取失败，忽略")
		}
		return
	}
	if snap.Size <= posEps {
		return
	}
	metrics.SnapshotLoads.Add(1)
	s.pendingSnap = &snap
	log.WithFields(logrus.Fields{
		"size":   snap.Size,
		"avg":    snap.AvgPrice,
		"bucket": snap.BucketTS,
	}).Info("📦 发现灰尘快照，待场前对账确认")
}

func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
