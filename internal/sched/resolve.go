package sched

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/clob/client"
	"github.com/betbot/bucketmm/internal/domain"
)

// ErrNotListed 目标桶的市场还没在交易所上架
var ErrNotListed = errors.New("market not listed")

// Resolver 按 slug 查市场；未上架返回 ErrNotListed
type Resolver interface {
	Resolve(ctx context.Context, slug string) (domain.Market, error)
}

// GammaResolver 用 Gamma API 解析市场元数据
type GammaResolver struct {
	gamma *client.GammaClient
}

func NewGammaResolver(g *client.GammaClient) *GammaResolver {
	return &GammaResolver{gamma: g}
}

func (r *GammaResolver) Resolve(ctx context.Context, slug string) (domain.Market, error) {
	gm, err := r.gamma.FetchMarketBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, client.ErrMarketNotFound) {
			return domain.Market{}, ErrNotListed
		}
		return domain.Market{}, err
	}
	ids, err := gm.TokenIDs()
	if err != nil {
		return domain.Market{}, errors.Wrapf(err, "市场 %s 的 token 列表无法解析", slug)
	}
	return domain.Market{
		Slug:        gm.Slug,
		ConditionID: gm.ConditionID,
		YesAssetID:  ids[0],
		NoAssetID:   ids[1],
		Question:    gm.Question,
	}, nil
}

// resolveBucket 轮询直到目标桶的市场上架。整桶都没上架时返回 ok=false，
// 调用方记一笔 skip。错误只在 ctx 取消时返回。
func (s *Scheduler) resolveBucket(ctx context.Context, bucketStart int64) (domain.Market, bool, error) {
	slug := s.spec.Slug(bucketStart)
	bucketEnd := time.Unix(s.spec.BucketEndUnix(bucketStart), 0)

	ticker := time.NewTicker(s.opts.ResolvePoll)
	defer ticker.Stop()

	waiting := false
	for {
		if !time.Now().Before(bucketEnd) {
			log.WithField("slug", slug).Warn("❌ 整桶未见市场上架，跳过本回合")
			return domain.Market{}, false, nil
		}

		rctx, cancel := context.WithTimeout(ctx, opTimeout)
		m, err := s.resolver.Resolve(rctx, slug)
		cancel()
		switch {
		case err == nil:
			m.BucketTS = bucketStart
			if !m.IsValid() {
				log.WithField("slug", slug).Warn("市场元数据不完整，继续轮询")
				break
			}
			log.WithFields(logrus.Fields{
				"slug":      m.Slug,
				"condition": m.ConditionID,
			}).Info("🎯 市场已上架")
			return m, true, nil
		case errors.Is(err, ErrNotListed):
			if !waiting {
				log.WithField("slug", slug).Info("⏳ 市场未上架，轮询等待")
				waiting = true
			}
		case errors.Is(err, context.Canceled):
			return domain.Market{}, false, ctx.Err()
		default:
			log.WithError(err).WithField("slug", slug).Warn("市场查询失败，稍后重试")
		}

		select {
		case <-ctx.Done():
			return domain.Market{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}
