package round

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/feed"
	"github.com/betbot/bucketmm/pkg/marketmath"
)

// tickIdle 等待入场：行情新鲜、选腿、算量、下单。
// 任何一关没过就停在 Idle，下个 tick 重来。
func (m *Machine) tickIdle(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) State {
	if !m.entryFresh(tob, fs) {
		// 行情过期只压新动作，已挂的出场单不受影响
		m.suppress(SuppressStaleness, fs.String())
		return StateIdle
	}

	leg, bid, ok := m.selectLeg(tob)
	if !ok {
		m.suppress(SuppressThreshold, fmt.Sprintf("yes=%s no=%s", tob.BidFor(domain.LegYes), tob.BidFor(domain.LegNo)))
		return StateIdle
	}

	size, ok := m.entrySize4Cap(now, bid)
	if !ok {
		return StateIdle
	}
	m.clearSuppressStreak()

	if !m.submitEntry(ctx, now, leg, bid, size) {
		return StateIdle
	}
	return StateEntryPending
}

// selectLeg 按配置的模式选入场腿。返回的买一价就是将要挂的入场价。
func (m *Machine) selectLeg(tob domain.TopOfBook) (domain.Leg, domain.Price, bool) {
	threshold := domain.PriceFromDecimal(m.params.EntryBidThreshold)

	pick := func(leg domain.Leg) (domain.Leg, domain.Price, bool) {
		bid := tob.BidFor(leg)
		if bid.IsZero() || bid.LessThan(threshold) {
			return leg, bid, false
		}
		return leg, bid, true
	}

	switch m.params.LegSelectionMode {
	case LegModeYesOnly:
		return pick(domain.LegYes)
	case LegModeNoOnly:
		return pick(domain.LegNo)
	default: // highest_bid
		yesBid := tob.BidFor(domain.LegYes)
		noBid := tob.BidFor(domain.LegNo)
		yesOK := !yesBid.IsZero() && yesBid.GreaterThanOrEqual(threshold)
		noOK := !noBid.IsZero() && noBid.GreaterThanOrEqual(threshold)
		switch {
		case yesOK && noOK:
			// 价高者得；同价时两腿在上限下的余量也相同，默认 YES
			if noBid.GreaterThan(yesBid) {
				return domain.LegNo, noBid, true
			}
			return domain.LegYes, yesBid, true
		case yesOK:
			return domain.LegYes, yesBid, true
		case noOK:
			return domain.LegNo, noBid, true
		default:
			return domain.LegYes, yesBid, false
		}
	}
}

// entrySize4Cap 按已流逝时间的资金上限算入场数量（整数份额，向下取整）
func (m *Machine) entrySize4Cap(now time.Time, price domain.Price) (float64, bool) {
	elapsed := int(now.Sub(m.bucketStart).Seconds())
	capUSD := m.params.CapSchedule.CapFor(elapsed)
	if capUSD <= 0 {
		m.suppress(SuppressCap, fmt.Sprintf("elapsed=%ds", elapsed))
		return 0, false
	}
	size := marketmath.SharesForCap(capUSD, price.Pips)
	if size < m.params.MinTradeSize {
		m.suppress(SuppressSize, fmt.Sprintf("size=%v min=%v cap=%v price=%s", size, m.params.MinTradeSize, capUSD, price))
		return 0, false
	}
	return size, true
}

// submitEntry 提交入场买单并登记。失败只记日志，状态不动。
func (m *Machine) submitEntry(ctx context.Context, now time.Time, leg domain.Leg, bid domain.Price, size float64) bool {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := m.exec.SubmitLimit(opCtx, leg, types.SideBuy, bid, size, domain.PurposeEntry)
	if err != nil {
		// 瞬时错误下个 tick 重试；被拒只放弃这一次动作
		log.WithError(err).WithFields(logrus.Fields{"leg": leg, "price": bid.String(), "size": size}).Warn("入场下单失败")
		return false
	}
	m.leg = leg
	m.entryOrder = order
	m.entrySubmittedAt = now
	m.awaitingRequote = false
	m.recordSubmitted(order)
	log.WithFields(logrus.Fields{
		"leg":   leg,
		"price": bid.String(),
		"size":  size,
		"order": order.ExchangeID,
	}).Info("🚀 入场挂单")
	return true
}

// tickEntryPending 入场单在场上：盯成交、到点重报。
func (m *Machine) tickEntryPending(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) State {
	filled := m.led.FilledSize(m.entryOrder.ExchangeID)

	if filled >= m.entryOrder.Size-sizeEps {
		return m.onEntryFilled(now, filled)
	}

	if m.awaitingRequote {
		// 撤单确认后等了一个 tick 清点漏网成交，现在可以定论了
		m.awaitingRequote = false
		if filled > sizeEps {
			// 撤单窗口里吃进了部分仓位，按这部分直接进入持仓流程
			return m.onEntryFilled(now, filled)
		}
		return StateIdle // Idle 会按当前盘口重新走一遍阈值/上限/数量检查
	}

	if filled > sizeEps {
		// 部分成交否决重报：撤了会留下碎片仓位，等它吃满
		return StateEntryPending
	}

	if !m.legFresh(tob, fs) {
		m.suppress(SuppressStaleness, fs.String())
		return StateEntryPending
	}
	if now.Sub(m.entrySubmittedAt) < m.params.EntryRequoteWait {
		return StateEntryPending
	}

	bid := tob.BidFor(m.leg)
	improve := domain.PriceFromDecimal(m.params.EntryRequoteMinImprove)
	if !marketmath.ImproveAtLeast(m.entryOrder.Price.Pips, bid.Pips, improve.Pips) {
		// 盘口没有实质改善，留着原单继续等
		return StateEntryPending
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	err := m.exec.Cancel(opCtx, m.entryOrder.ExchangeID)
	cancel()
	if err != nil {
		log.WithError(err).WithField("order", m.entryOrder.ExchangeID).Warn("重报撤单失败")
		return StateEntryPending
	}
	// 撤单成功也可能是"其实已成交"，所以先不重报，
	// 等下一个 tick 把成交流水清点完再决定
	m.led.ApplyOrderStatus(m.entryOrder.ExchangeID, domain.OrderStatusCanceled)
	m.awaitingRequote = true
	m.clearSuppressStreak()
	log.WithFields(logrus.Fields{
		"order": m.entryOrder.ExchangeID,
		"old":   m.entryOrder.Price.String(),
		"bid":   bid.String(),
	}).Info("🔄 盘口改善，撤单重报")
	return StateEntryPending
}

// onEntryFilled 入场成交定格：算止盈/止损价，进入持仓流程。
// 成交量不足最小交易量的碎片直接走灰尘分支。
func (m *Machine) onEntryFilled(now time.Time, filled float64) State {
	m.entrySize = filled
	m.entryPrice = m.entryOrder.Price
	m.entryFilledAt = now
	m.led.ApplyOrderStatus(m.entryOrder.ExchangeID, domain.OrderStatusFilled)

	if filled < m.params.MinTradeSize-sizeEps {
		log.WithFields(logrus.Fields{"filled": filled, "min": m.params.MinTradeSize}).Warn("⚠️ 入场只成交了碎片，转灰尘处理")
		return StateDust
	}

	m.tpPrice = domain.Price{Pips: marketmath.TpPips(
		m.entryPrice.Pips,
		domain.PriceFromDecimal(m.params.MinTpIncrement).Pips,
		domain.PriceFromDecimal(m.params.MaxTpPrice).Pips,
	)}
	m.slTrigger = domain.Price{Pips: marketmath.SlTriggerPips(
		m.entryPrice.Pips,
		domain.PriceFromDecimal(m.params.SlOffset).Pips,
		domain.PriceFromDecimal(m.params.SlFloor).Pips,
	)}
	log.WithFields(logrus.Fields{
		"leg":   m.leg,
		"entry": m.entryPrice.String(),
		"size":  filled,
		"tp":    m.tpPrice.String(),
		"sl":    m.slTrigger.String(),
	}).Info("✅ 入场成交")
	return StateEntryFilled
}

// tryLateReentry 晚盘止损清仓后的再入场。无论下单成败都消耗一次额度。
func (m *Machine) tryLateReentry(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) bool {
	if !m.params.EnableLateReentry || !m.inLateWindow(now) {
		return false
	}
	if m.lateReentries >= m.params.MaxLateReentries {
		return false
	}
	if !m.legFresh(tob, fs) {
		m.suppress(SuppressStaleness, fs.String())
		return false
	}
	bid := tob.BidFor(m.leg)
	if bid.IsZero() || bid.ToDecimal() < m.params.LateReentryEntryThreshold {
		return false
	}
	size, ok := m.entrySize4Cap(now, bid)
	if !ok {
		return false
	}

	m.lateReentries++ // 额度先扣，失败不退
	if !m.submitEntry(ctx, now, m.leg, bid, size) {
		log.WithField("attempt", m.lateReentries).Warn("晚盘再入场下单失败，额度已消耗")
		return false
	}
	log.WithFields(logrus.Fields{"attempt": m.lateReentries, "max": m.params.MaxLateReentries}).Info("🚀 晚盘再入场")
	return true
}
