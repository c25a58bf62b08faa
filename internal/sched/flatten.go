package sched

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/feed"
	"github.com/betbot/bucketmm/internal/ledger"
	"github.com/betbot/bucketmm/internal/metrics"
)

// flattenResidual 场前清理：回合开始前清点两条腿的场上仓位。
// 够量的仓位立刻挂卖单平掉，低于最小交易量的残余按灰尘规则并入
// 本回合的起始灰尘。清不完的留给下一回合再试。
//
// 重启恢复也在这里完成：场上数量是唯一事实，灰尘快照只在场上
// 确有残余时贡献均价；场上干净则快照作废。
func (s *Scheduler) flattenResidual(ctx context.Context, market domain.Market, carry domain.Dust, bucketEnd time.Time) domain.Dust {
	metrics.FlattenRuns.Add(1)
	dust := carry

	deadline := time.Now().Add(s.opts.FlattenTimeout)
	if deadline.After(bucketEnd) {
		deadline = bucketEnd
	}

	for _, leg := range []domain.Leg{domain.LegYes, domain.LegNo} {
		qctx, cancel := context.WithTimeout(ctx, opTimeout)
		pos, err := s.exec.QueryRemotePosition(qctx, leg)
		cancel()
		if err != nil {
			metrics.FlattenErrors.Add(1)
			log.WithError(err).WithField("leg", leg).Warn("场前查仓失败，跳过该腿")
			continue
		}
		if pos.Size <= posEps {
			continue
		}

		avg := pos.AvgPrice
		if s.pendingSnap != nil && s.pendingSnap.AvgPrice > 0 {
			avg = s.pendingSnap.AvgPrice
		}

		if pos.Size < s.params.MinTradeSize {
			if s.params.EnableDustMerge {
				dust = dust.Merge(pos.Size, avg)
				log.WithFields(logrus.Fields{
					"leg":  leg,
					"size": pos.Size,
					"dust": dust.Size,
				}).Info("🧹 场前残余并入灰尘")
			}
			continue
		}

		residue := s.sellResidual(ctx, market, leg, pos, deadline)
		if residue > posEps && residue < s.params.MinTradeSize && s.params.EnableDustMerge {
			dust = dust.Merge(residue, avg)
			log.WithFields(logrus.Fields{
				"leg":  leg,
				"size": residue,
				"dust": dust.Size,
			}).Info("🧹 清仓余渣并入灰尘")
		}
	}

	// 快照只参与一次对账，之后无论结果如何都作废
	s.pendingSnap = nil
	return dust
}

// sellResidual 把一条腿上够量的外部仓位卖掉，返回清理后剩下的数量。
// 买一价够得着成本价加增量时按止盈价清，否则按深价卖单硬平。
func (s *Scheduler) sellResidual(ctx context.Context, market domain.Market, leg domain.Leg, pos ledger.Position, deadline time.Time) float64 {
	tp := pos.AvgPrice + s.params.MinTpIncrement
	price := domain.PriceFromDecimal(s.params.SlOrderPrice)
	if s.flattenBid(ctx, market, leg) >= tp {
		price = domain.PriceFromDecimal(tp)
	}

	octx, cancel := context.WithTimeout(ctx, opTimeout)
	order, err := s.exec.SubmitLimit(octx, leg, types.SideSell, price, pos.Size, domain.PurposeFlatten)
	cancel()
	if err != nil {
		metrics.FlattenErrors.Add(1)
		log.WithError(err).WithField("leg", leg).Warn("场前清仓下单失败，留给下一回合")
		return pos.Size
	}
	log.WithFields(logrus.Fields{
		"leg":   leg,
		"size":  pos.Size,
		"price": price.String(),
	}).Info("🧹 场前清仓卖单已挂")

	// 等成交。顺手把成交流水消化掉，免得串进回合账本
	for time.Now().Before(deadline) && ctx.Err() == nil {
		pctx, pcancel := context.WithTimeout(ctx, opTimeout)
		_, _ = s.exec.PollFills(pctx)
		pcancel()

		qctx, qcancel := context.WithTimeout(ctx, opTimeout)
		cur, qerr := s.exec.QueryRemotePosition(qctx, leg)
		qcancel()
		if qerr == nil && cur.Size <= posEps {
			log.WithField("leg", leg).Info("✅ 场前清仓完成")
			return 0
		}

		if s.sleepUntil(ctx, time.Now().Add(s.opts.TickInterval)) != nil {
			break
		}
	}

	// 撤单用独立 ctx：停机路径也要把单子撤干净
	cctx, ccancel := context.WithTimeout(context.Background(), opTimeout)
	if cerr := s.exec.Cancel(cctx, order.ExchangeID); cerr != nil {
		log.WithError(cerr).WithField("leg", leg).Warn("场前清仓撤单失败")
	}
	ccancel()

	// 撤完再问一次，成交可能刚好赶在撤单前
	qctx, qcancel := context.WithTimeout(context.Background(), opTimeout)
	defer qcancel()
	cur, qerr := s.exec.QueryRemotePosition(qctx, leg)
	if qerr != nil {
		metrics.FlattenErrors.Add(1)
		log.WithError(qerr).WithField("leg", leg).Warn("场前清仓后查仓失败")
		return pos.Size
	}
	if cur.Size > posEps {
		log.WithFields(logrus.Fields{"leg": leg, "size": cur.Size}).Warn("⚠️ 场前没清干净，残余顺延")
	}
	return cur.Size
}

// flattenBid 清仓定价用的买一价。本地 feed 必须新鲜且属于本桶；
// 不满足就走 REST 盘口兜底，两边都拿不到按 0 处理（深价硬平）。
func (s *Scheduler) flattenBid(ctx context.Context, market domain.Market, leg domain.Leg) float64 {
	tob, fs := s.feed.ReadLatest()
	if fs == feed.ReadOK && (tob.BucketTS == 0 || tob.BucketTS == market.BucketTS) {
		return tob.BidFor(leg).ToDecimal()
	}

	if s.books == nil {
		return 0
	}
	bctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	bid, err := s.books.BestBid(bctx, market.AssetIDFor(leg))
	if err != nil {
		log.WithError(err).WithField("leg", leg).Warn("REST 盘口兜底失败")
		return 0
	}
	return bid.ToDecimal()
}
