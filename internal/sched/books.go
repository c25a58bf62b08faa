package sched

import (
	"context"
	"strconv"

	"github.com/betbot/bucketmm/clob/client"
	"github.com/betbot/bucketmm/internal/domain"
)

// BookSource 盘口兜底查询。场前清理发生在桶刚开始的时候，本地 feed
// 往往还停在上一个桶，卖价选择需要另一个买一价来源。
type BookSource interface {
	BestBid(ctx context.Context, assetID string) (domain.Price, error)
}

// ClobBooks 用 CLOB REST 订单簿实现盘口兜底
type ClobBooks struct {
	c *client.Client
}

// NewClobBooks 创建 REST 盘口查询器
func NewClobBooks(c *client.Client) *ClobBooks {
	return &ClobBooks{c: c}
}

// BestBid 返回订单簿里的最高买价；空簿返回零价
func (b *ClobBooks) BestBid(ctx context.Context, assetID string) (domain.Price, error) {
	book, err := b.c.GetOrderBook(ctx, assetID)
	if err != nil {
		return domain.Price{}, err
	}
	best := 0.0
	for _, lvl := range book.Bids {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if p > best {
			best = p
		}
	}
	return domain.PriceFromDecimal(best), nil
}
