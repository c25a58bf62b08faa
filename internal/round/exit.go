package round

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/feed"
	"github.com/betbot/bucketmm/internal/outcome"
)

// tickEntryFilled 入场成交之后、止盈挂出之前的窗口。
// 晚盘高价仓位直接转持有到期；窗口内同样盯止损。
func (m *Machine) tickEntryFilled(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) State {
	if m.holdToExpiry(now) {
		log.WithFields(logrus.Fields{"entry": m.entryPrice.String(), "size": m.entrySize}).Info("📝 晚盘高价仓位，放弃止盈持有到期")
		return StateLateHold
	}

	// 延迟窗口内也可能崩盘，先于止盈检查止损
	if m.legFresh(tob, fs) {
		bid := tob.BidFor(m.leg)
		if !bid.IsZero() && bid.LessThanOrEqual(m.slTrigger) {
			log.WithFields(logrus.Fields{"bid": bid.String(), "trigger": m.slTrigger.String()}).Warn("⚠️ 止盈还没挂就触发止损")
			if m.submitExit(ctx, domain.PurposeSl, m.remainingPosition()) {
				return StateSlArmed
			}
			return StateEntryFilled
		}
	}

	// 成交后歇一拍再挂止盈，避开撮合抖动
	if now.Sub(m.entryFilledAt) < m.params.ExitDelay {
		return StateEntryFilled
	}
	if m.submitTp(ctx) {
		return StateTpPending
	}
	return StateEntryFilled
}

// submitTp 按剩余仓位挂止盈卖单
func (m *Machine) submitTp(ctx context.Context) bool {
	size := m.remainingPosition()
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := m.exec.SubmitLimit(opCtx, m.leg, types.SideSell, m.tpPrice, size, domain.PurposeTp)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"price": m.tpPrice.String(), "size": size}).Warn("止盈下单失败")
		return false
	}
	m.tpOrder = order
	m.recordSubmitted(order)
	log.WithFields(logrus.Fields{
		"price": m.tpPrice.String(),
		"size":  size,
		"order": order.ExchangeID,
	}).Info("📝 止盈挂单")
	return true
}

// submitExit 挂深价卖单清仓（止损 / 晚盘止损通用）
func (m *Machine) submitExit(ctx context.Context, purpose domain.OrderPurpose, size float64) bool {
	if size <= sizeEps {
		return false
	}
	price := domain.PriceFromDecimal(m.params.SlOrderPrice)
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := m.exec.SubmitLimit(opCtx, m.leg, types.SideSell, price, size, purpose)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"purpose": purpose, "size": size}).Warn("止损下单失败")
		return false
	}
	m.exitOrder = order
	m.recordSubmitted(order)
	log.WithFields(logrus.Fields{
		"purpose": purpose,
		"price":   price.String(),
		"size":    size,
		"order":   order.ExchangeID,
	}).Info("🛑 止损卖单已挂")
	return true
}

// tickTpPending 止盈单在场上：盯成交、盯止损触发、盯晚盘切换。
func (m *Machine) tickTpPending(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) State {
	tpFilled := m.led.FilledSize(m.tpOrder.ExchangeID)
	if tpFilled >= m.tpOrder.Size-sizeEps {
		m.result = outcome.ResultWin
		m.led.ApplyOrderStatus(m.tpOrder.ExchangeID, domain.OrderStatusFilled)
		log.WithFields(logrus.Fields{"price": m.tpPrice.String(), "size": tpFilled}).Info("💰 止盈成交")
		return StateExitFilled
	}

	if m.tpCancelPending {
		// 止盈撤单已确认，漏网成交也清点过一个 tick 了
		m.tpCancelPending = false
		remaining := m.remainingPosition()
		switch {
		case remaining <= sizeEps:
			// 撤单路上止盈其实吃满了
			m.result = outcome.ResultWin
			return StateExitFilled
		case remaining < m.params.MinTradeSize:
			// 部分止盈后的残渣不够挂单，折灰尘
			return StateDust
		default:
			if m.submitExit(ctx, domain.PurposeSl, remaining) {
				return StateSlArmed
			}
			m.tpCancelPending = true // 下单失败，下个 tick 重试（不会重复撤单）
			return StateTpPending
		}
	}

	if m.holdToExpiry(now) {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		err := m.exec.Cancel(opCtx, m.tpOrder.ExchangeID)
		cancel()
		if err != nil {
			log.WithError(err).WithField("order", m.tpOrder.ExchangeID).Warn("晚盘切换撤止盈失败")
			return StateTpPending
		}
		m.led.ApplyOrderStatus(m.tpOrder.ExchangeID, domain.OrderStatusCanceled)
		log.Info("📝 晚盘窗口到，撤止盈持有到期")
		return StateLateHold
	}

	if !m.legFresh(tob, fs) {
		// 行情不新鲜就不做止损判定，更不会去撤在场的止盈
		m.suppress(SuppressStaleness, fs.String())
		return StateTpPending
	}

	bid := tob.BidFor(m.leg)
	if !bid.IsZero() && bid.LessThanOrEqual(m.slTrigger) {
		log.WithFields(logrus.Fields{"bid": bid.String(), "trigger": m.slTrigger.String()}).Warn("⚠️ 触发止损，先撤止盈")
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		err := m.exec.Cancel(opCtx, m.tpOrder.ExchangeID)
		cancel()
		if err != nil {
			log.WithError(err).WithField("order", m.tpOrder.ExchangeID).Warn("撤止盈失败")
			return StateTpPending
		}
		// 撤单成功可能掩盖"已成交"，等下个 tick 清点成交流水再定论
		m.led.ApplyOrderStatus(m.tpOrder.ExchangeID, domain.OrderStatusCanceled)
		m.tpCancelPending = true
	}
	return StateTpPending
}

// tickSlArmed 深价卖单在场上，等全部成交
func (m *Machine) tickSlArmed(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) State {
	exitFilled := m.led.FilledSize(m.exitOrder.ExchangeID)
	if exitFilled < m.exitOrder.Size-sizeEps {
		// 深价卖单几乎必成；没成就继续等，订单还在场上
		return StateSlArmed
	}
	return m.onSlFilled(ctx, now, tob, fs)
}

// onSlFilled 止损单吃满后与链上对账：清干净就收尾（晚盘窗口里可再入场），
// 残渣折灰尘，够量残余继续追卖。
func (m *Machine) onSlFilled(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) State {
	slResult := outcome.ResultSl
	if m.exitOrder.Purpose == domain.PurposeLateSl {
		slResult = outcome.ResultLateSl
	}
	m.led.ApplyOrderStatus(m.exitOrder.ExchangeID, domain.OrderStatusFilled)
	log.WithFields(logrus.Fields{"purpose": m.exitOrder.Purpose, "size": m.exitOrder.Size}).Info("🛑 止损成交")

	residual := m.remoteResidual(ctx)
	switch {
	case residual <= sizeEps:
		if m.tryLateReentry(ctx, now, tob, fs) {
			// 新一轮持仓周期：出场相关字段等入场成交后重算
			m.tpOrder = domain.Order{}
			m.exitOrder = domain.Order{}
			m.tpCancelPending = false
			return StateEntryPending
		}
		m.result = slResult
		return StateExitFilled
	case residual < m.params.MinTradeSize:
		m.result = slResult // 主体已止损出场，残渣走灰尘
		return StateDust
	default:
		// 链上还有够量残余（部分成交的入场在撤单窗口又进了货），继续追卖
		if m.submitExit(ctx, m.exitOrder.Purpose, residual) {
			return StateSlArmed
		}
		return StateSlArmed // 旧单已吃满，下个 tick 会重进对账重试
	}
}

// remoteResidual 查链上权威仓位；查不到时退回本地乐观仓位
func (m *Machine) remoteResidual(ctx context.Context) float64 {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pos, err := m.exec.QueryRemotePosition(opCtx, m.leg)
	if err != nil {
		log.WithError(err).Warn("查链上仓位失败，用本地乐观仓位兜底")
		return m.remainingPosition()
	}
	return pos.Size
}

// tickLateHold 晚盘持有到期：只配晚盘止损，其余什么都不做
func (m *Machine) tickLateHold(ctx context.Context, now time.Time, tob domain.TopOfBook, fs feed.ReadStatus) State {
	remaining := m.remainingPosition()
	if remaining <= sizeEps {
		// 切换间隙被止盈单吃光了
		m.result = outcome.ResultWin
		return StateExitFilled
	}

	if !m.legFresh(tob, fs) {
		m.suppress(SuppressStaleness, fs.String())
		return StateLateHold
	}

	bid := tob.BidFor(m.leg)
	if !bid.IsZero() && bid.ToDecimal() <= m.params.LateSlTrigger {
		log.WithFields(logrus.Fields{"bid": bid.String(), "trigger": m.params.LateSlTrigger}).Warn("⚠️ 晚盘止损触发")
		if m.submitExit(ctx, domain.PurposeLateSl, remaining) {
			return StateSlArmed
		}
	}
	return StateLateHold
}

// tickExitFilled 出场完成，清点收尾
func (m *Machine) tickExitFilled(ctx context.Context, now time.Time) State {
	if m.result == "" {
		m.result = outcome.ResultWin
	}
	m.finish(ctx, now, m.result)
	return StateDone
}

// tickDust 残余低于最小交易量：本回合不再发任何订单，折灰尘收尾
func (m *Machine) tickDust(ctx context.Context, now time.Time) State {
	result := m.result
	if result == "" {
		result = outcome.ResultDust
	}
	m.finish(ctx, now, result)
	return StateDone
}
