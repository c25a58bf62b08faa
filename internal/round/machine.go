package round

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/feed"
	"github.com/betbot/bucketmm/internal/ledger"
	"github.com/betbot/bucketmm/internal/outcome"
	"github.com/betbot/bucketmm/internal/ports"
	"github.com/betbot/bucketmm/pkg/marketmath"
)

var log = logrus.WithField("component", "round")

const (
	// sizeEps 数量比较的容差（交易所返回的数量是字符串转出来的浮点）
	sizeEps = 1e-9
	// opTimeout 单次交易所调用的上限，防止慢请求拖死 tick 循环
	opTimeout = 10 * time.Second
)

// Machine 单回合状态机。所有方法都在调度器的 tick goroutine 里调用，
// 不做内部加锁；账本自己是并发安全的。
type Machine struct {
	params Params
	exec   ports.Executor
	led    *ledger.Ledger
	rec    ports.RoundRecorder

	market      domain.Market
	bucketStart time.Time
	bucketEnd   time.Time

	state State
	leg   domain.Leg

	entryOrder domain.Order
	entryPrice domain.Price // 实际入场均价（单一限价单，成交价即挂单价）
	entrySize  float64
	tpOrder    domain.Order
	tpPrice    domain.Price
	slTrigger  domain.Price
	exitOrder  domain.Order

	entrySubmittedAt time.Time
	entryFilledAt    time.Time
	awaitingRequote  bool // 重报撤单已发出，等下一个 tick 清点漏网成交
	tpCancelPending  bool // 止损触发、止盈撤单已发出，等下一个 tick 清点

	dustCarry     domain.Dust
	lateReentries int
	sup           Suppressions
	lastSupKind   string // 抑制流水按事件沿写入，不按 tick 刷屏

	result     string
	haltReason string
	startedAt  time.Time
	endedAt    time.Time
}

// NewMachine 构造一个回合。dustCarry 是上一回合遗留的灰尘，
// 本回合结束时把自己的残余并进去再交还调度器。
func NewMachine(p Params, market domain.Market, bucketStart time.Time, exec ports.Executor, led *ledger.Ledger, rec ports.RoundRecorder, dustCarry domain.Dust) *Machine {
	if rec == nil {
		rec = ports.NopRecorder{}
	}
	return &Machine{
		params:      p,
		exec:        exec,
		led:         led,
		rec:         rec,
		market:      market,
		bucketStart: bucketStart,
		bucketEnd:   bucketStart.Add(p.ContractDuration),
		state:       StateIdle,
		dustCarry:   dustCarry,
	}
}

// State 当前状态
func (m *Machine) State() State {
	return m.state
}

// Done 回合是否终结
func (m *Machine) Done() bool {
	return m.state == StateDone
}

// DustCarry 回合结束后累计的灰尘（Done 之前读到的是入参原值）
func (m *Machine) DustCarry() domain.Dust {
	return m.dustCarry
}

// LateReentries 已消耗的晚盘再入场次数
func (m *Machine) LateReentries() int {
	return m.lateReentries
}

// Tick 推进回合一步。now 是调度器时钟，tob/fs 是最新行情快照及其新鲜度。
// 顺序固定：先吸收成交，再查熔断，再查桶到期，最后做状态分发。
func (m *Machine) Tick(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) {
	if m.state == StateDone {
		return
	}
	if m.startedAt.IsZero() {
		m.startedAt = now
	}

	m.drainFills(ctx)

	if m.exec.Halted() {
		m.haltRound(ctx, now)
		return
	}
	if !now.Before(m.bucketEnd) {
		m.teardown(ctx, now)
		return
	}

	switch m.state {
	case StateIdle:
		m.state = m.tickIdle(ctx, now, tob, fs)
	case StateEntryPending:
		m.state = m.tickEntryPending(ctx, now, tob, fs)
	case StateEntryFilled:
		m.state = m.tickEntryFilled(ctx, now, tob, fs)
	case StateTpPending:
		m.state = m.tickTpPending(ctx, now, tob, fs)
	case StateSlArmed:
		m.state = m.tickSlArmed(ctx, now, tob, fs)
	case StateLateHold:
		m.state = m.tickLateHold(ctx, now, tob, fs)
	case StateExitFilled:
		m.state = m.tickExitFilled(ctx, now)
	case StateDust:
		m.state = m.tickDust(ctx, now)
	}
}

// drainFills 把执行层攒下的成交事件灌进账本；重复投递靠账本去重
func (m *Machine) drainFills(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fills, err := m.exec.PollFills(opCtx)
	if err != nil {
		log.WithError(err).Warn("拉取成交失败，本 tick 先用已知账本")
	}
	for _, f := range fills {
		// 只入账本回合登记过的订单；场前清理和人工操作的成交不算回合的
		if _, known := m.led.Order(f.OrderID); !known {
			continue
		}
		if m.led.Apply(f) {
			m.rec.RecordFill(m.bucketStart.Unix(), f)
			log.WithFields(logrus.Fields{
				"fill":   f.ID,
				"leg":    f.Leg,
				"side":   f.Side,
				"price":  f.Price.String(),
				"size":   f.Size,
				"status": f.Status,
			}).Info("📊 成交入账")
		}
	}
}

// suppress 计数一次被拦下的动作；同类事件连续出现只写一条流水
func (m *Machine) suppress(kind, detail string) {
	m.sup.bump(kind)
	if kind != m.lastSupKind {
		m.rec.RecordSuppression(m.bucketStart.Unix(), kind, detail)
		log.WithFields(logrus.Fields{"kind": kind, "detail": detail}).Info("⏭️ 动作被抑制")
	}
	m.lastSupKind = kind
}

func (m *Machine) clearSuppressStreak() {
	m.lastSupKind = ""
}

// entryFresh 入场判定用的行情检查：只要求本模式会用到的腿有买一价，
// yes_only / no_only 下另一腿空盘不拦入场。
func (m *Machine) entryFresh(tob domain.TopOfBook, fs feed.ReadStatus) bool {
	if fs != feed.ReadOK {
		return false
	}
	switch m.params.LegSelectionMode {
	case LegModeYesOnly:
		return !tob.YesBid.IsZero()
	case LegModeNoOnly:
		return !tob.NoBid.IsZero()
	default:
		return tob.HasPrices()
	}
}

// legFresh 已选腿的行情检查：快照新鲜且该腿有买一价
func (m *Machine) legFresh(tob domain.TopOfBook, fs feed.ReadStatus) bool {
	return fs == feed.ReadOK && !tob.BidFor(m.leg).IsZero()
}

// inLateWindow 是否已进入桶尾的晚盘窗口
func (m *Machine) inLateWindow(now time.Time) bool {
	return m.params.LateWindow > 0 && m.bucketEnd.Sub(now) <= m.params.LateWindow
}

// holdToExpiry 晚盘且入场价已站上阈值：放弃止盈，持有到期
func (m *Machine) holdToExpiry(now time.Time) bool {
	if !m.inLateWindow(now) || m.entrySize <= sizeEps {
		return false
	}
	return m.entryPrice.ToDecimal() >= m.params.LateReentryEntryThreshold
}

// remainingPosition 本回合的乐观剩余仓位（买入减卖出，failed 已被账本剔除）
func (m *Machine) remainingPosition() float64 {
	pos := m.led.RiskPosition(m.leg)
	if pos.Size < 0 {
		return 0
	}
	return pos.Size
}

// recordSubmitted 账本与流水各记一笔新订单
func (m *Machine) recordSubmitted(o domain.Order) {
	m.led.RecordOrder(o)
	m.rec.RecordOrder(m.bucketStart.Unix(), o)
}

// haltRound 熔断终止：尽力撤掉场上订单，回合以 halt 收尾
func (m *Machine) haltRound(ctx context.Context, now time.Time) {
	m.haltReason = m.exec.HaltReason()
	m.suppress(SuppressHalt, m.haltReason)
	log.WithField("reason", m.haltReason).Warn("🛑 熔断触发，终止回合")
	m.cancelOpenOrders(ctx)
	m.finish(ctx, now, outcome.ResultHalt)
}

// teardown 桶到期收尾：撤单、定结果、折灰尘
func (m *Machine) teardown(ctx context.Context, now time.Time) {
	m.cancelOpenOrders(ctx)

	var result string
	switch {
	case m.result != "":
		result = m.result
	case m.state == StateDust:
		result = outcome.ResultDust
	case m.remainingPosition() > sizeEps:
		result = outcome.ResultHold // 持仓到期，等链上结算（部分成交的入场也算）
	case m.entrySize <= sizeEps:
		result = outcome.ResultFlat // 整个回合没入场（或入场单到期都没成交）
	default:
		result = outcome.ResultWin // 仓位已清但还没走到 exit_filled（到期前最后一刻成交）
	}
	m.finish(ctx, now, result)
}

// Shutdown 进程退出前的兜底：只撤单，不动状态。
// 回合留在原状态，重启后由持仓对账规则接管。
func (m *Machine) Shutdown(ctx context.Context) {
	if m.state == StateDone {
		return
	}
	log.Info("🧹 停机撤单")
	m.cancelOpenOrders(ctx)
}

// cancelOpenOrders 尽力撤掉账本里所有在场订单
func (m *Machine) cancelOpenOrders(ctx context.Context) {
	for _, o := range m.led.OpenOrders() {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		err := m.exec.Cancel(opCtx, o.ExchangeID)
		cancel()
		if err != nil {
			log.WithError(err).WithField("order", o.ExchangeID).Warn("撤单失败")
			continue
		}
		m.led.ApplyOrderStatus(o.ExchangeID, domain.OrderStatusCanceled)
		log.WithFields(logrus.Fields{"order": o.ExchangeID, "purpose": o.Purpose}).Info("✅ 已撤单")
	}
}

// finish 终结回合：折灰尘、定格结果
func (m *Machine) finish(ctx context.Context, now time.Time, result string) {
	m.foldResidualDust(ctx)
	m.result = result
	m.endedAt = now
	m.state = StateDone
	log.WithFields(logrus.Fields{
		"slug":   m.market.Slug,
		"result": result,
		"dust":   m.dustCarry.Size,
	}).Info("🏁 回合结束")
}

// foldResidualDust 回合收尾时清点链上残余：
// 低于最小交易量的折进灰尘，够量的留给下一回合的场前清理。
func (m *Machine) foldResidualDust(ctx context.Context) {
	if !m.leg.Valid() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pos, err := m.exec.QueryRemotePosition(opCtx, m.leg)
	if err != nil {
		log.WithError(err).Warn("收尾查仓失败，灰尘留待下回合清点")
		return
	}
	if pos.Size <= sizeEps {
		return
	}
	if pos.Size >= m.params.MinTradeSize {
		// 链上还有够量仓位（常见于成交刚撮合还没上链，或者 hold 到期），
		// 不在这里下单，交给下一回合的场前清理。
		log.WithFields(logrus.Fields{"leg": m.leg, "size": pos.Size}).Info("📝 链上残余够量，留给场前清理")
		return
	}
	if !m.params.EnableDustMerge {
		return
	}
	m.dustCarry = m.dustCarry.Merge(pos.Size, pos.AvgPrice)
	log.WithFields(logrus.Fields{
		"size": pos.Size,
		"avg":  pos.AvgPrice,
		"dust": m.dustCarry.Size,
	}).Info("🧹 残余并入灰尘")
}

// Outcome 回合结果记录（Done 之后调用）
func (m *Machine) Outcome() outcome.Record {
	rec := outcome.Record{
		Version:           outcome.SchemaVersion,
		BucketTS:          m.bucketStart.Unix(),
		Slug:              m.market.Slug,
		Result:            m.result,
		EntryPrice:        m.entryPrice.ToDecimal(),
		EntrySize:         m.entrySize,
		DustCarrySize:     m.dustCarry.Size,
		DustCarryAvgPrice: m.dustCarry.AvgPrice,
		LateReentries:     m.lateReentries,
		Suppressions:      m.sup.Map(),
		HaltReason:        m.haltReason,
		StartedAt:         m.startedAt,
		EndedAt:           m.endedAt,
	}
	if m.leg.Valid() {
		rec.Leg = string(m.leg)
	}

	// 现金流与出场均价直接从成交流水清点
	var buyNotional, sellNotional, sellSize float64
	for _, f := range m.led.Fills() {
		if f.Status == domain.FillFailed {
			continue
		}
		notional := marketmath.NotionalUSD(f.Price.Pips, f.Size)
		if f.Side == types.SideSell {
			sellNotional += notional
			sellSize += f.Size
		} else {
			buyNotional += notional
		}
	}
	rec.CashDeltaUSD = sellNotional - buyNotional
	if sellSize > sizeEps {
		rec.ExitSize = sellSize
		rec.ExitPrice = marketmath.VwapUSD(sellNotional, sellSize)
	}
	return rec
}
