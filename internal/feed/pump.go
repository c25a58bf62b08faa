package feed

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
)

var log = logrus.WithField("component", "feed")

// depthBook 单个资产的深度簿（价格字符串 -> 数量）
type depthBook struct {
	bids map[string]float64
	asks map[string]float64
}

func newDepthBook() *depthBook {
	return &depthBook{
		bids: make(map[string]float64),
		asks: make(map[string]float64),
	}
}

// bestBid 返回买一价，空盘返回零价
func (b *depthBook) bestBid() domain.Price {
	best := 0.0
	for priceStr, size := range b.bids {
		if size <= 0 {
			continue
		}
		p, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		if p > best {
			best = p
		}
	}
	return domain.PriceFromDecimal(best)
}

// bestAsk 返回卖一价，空盘返回零价
func (b *depthBook) bestAsk() domain.Price {
	best := 0.0
	for priceStr, size := range b.asks {
		if size <= 0 {
			continue
		}
		p, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		if best == 0 || p < best {
			best = p
		}
	}
	return domain.PriceFromDecimal(best)
}

func (b *depthBook) applyLevel(side, priceStr string, size float64) {
	var m map[string]float64
	switch side {
	case "BUY", "buy":
		m = b.bids
	case "SELL", "sell":
		m = b.asks
	default:
		return
	}
	if size <= 0 {
		delete(m, priceStr)
		return
	}
	m[priceStr] = size
}

func (b *depthBook) replaceFromSnapshot(bids, asks []websocket.BookLevel) {
	b.bids = make(map[string]float64, len(bids))
	b.asks = make(map[string]float64, len(asks))
	for _, lvl := range bids {
		if size, err := strconv.ParseFloat(lvl.Size, 64); err == nil && size > 0 {
			b.bids[lvl.Price] = size
		}
	}
	for _, lvl := range asks {
		if size, err := strconv.ParseFloat(lvl.Size, 64); err == nil && size > 0 {
			b.asks[lvl.Price] = size
		}
	}
}

// Pump 消费 market 频道消息，折叠成 TopOfBook 并写入行情通道。
//
// 深度簿是唯一事实来源：book 事件整簿重建（订阅/重连后 venue 会推快照），
// price_change 事件按档位增量更新。每次变化都发布一帧快照。
type Pump struct {
	client *websocket.MarketClient
	sink   Writer

	mu     sync.Mutex
	market domain.Market
	books  map[string]*depthBook
}

// NewPump 创建行情泵
func NewPump(client *websocket.MarketClient, sink Writer) *Pump {
	return &Pump{
		client: client,
		sink:   sink,
		books:  make(map[string]*depthBook),
	}
}

// SetMarket 切换到新市场（桶边界调用）：清空深度簿并重新订阅
func (p *Pump) SetMarket(market domain.Market) error {
	p.mu.Lock()
	old := p.market
	p.market = market
	p.books = map[string]*depthBook{
		market.YesAssetID: newDepthBook(),
		market.NoAssetID:  newDepthBook(),
	}
	p.mu.Unlock()

	if !p.client.IsRunning() {
		return nil
	}

	if old.YesAssetID != "" {
		_ = p.client.Unsubscribe(old.YesAssetID, old.NoAssetID)
	}
	if err := p.client.Subscribe(market.YesAssetID, market.NoAssetID); err != nil {
		return err
	}
	log.Infof("📡 已订阅市场 %s", market.Slug)
	return nil
}

// Run 启动客户端并持续折叠消息，直到 ctx 结束
func (p *Pump) Run(ctx context.Context) error {
	if err := p.client.Start(ctx); err != nil {
		return err
	}
	defer p.client.Stop()

	// SetMarket 可能先于 Run 调用，启动后补发一次订阅
	p.mu.Lock()
	market := p.market
	p.mu.Unlock()
	if market.YesAssetID != "" {
		if err := p.client.Subscribe(market.YesAssetID, market.NoAssetID); err != nil {
			log.Warnf("启动后订阅失败: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.client.Messages():
			p.fold(msg)
		case err := <-p.client.Errors():
			log.Warnf("⚠️ 行情流错误: %v", err)
		}
	}
}

// fold 把一条市场消息并进深度簿；有变化就发布快照
func (p *Pump) fold(msg websocket.MarketMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := false

	switch msg.EventType {
	case websocket.EventBook:
		if book, ok := p.books[msg.AssetID]; ok {
			book.replaceFromSnapshot(msg.BidLevels(), msg.AskLevels())
			changed = true
		}

	case websocket.EventPriceChange:
		for _, pc := range msg.PriceChanges {
			book, ok := p.books[pc.AssetID]
			if !ok {
				continue
			}
			if size, err := strconv.ParseFloat(pc.Size, 64); err == nil {
				book.applyLevel(pc.Side, pc.Price, size)
				changed = true
			}
		}
		if book, ok := p.books[msg.AssetID]; ok {
			for _, ch := range msg.Changes {
				if size, err := strconv.ParseFloat(ch.Size, 64); err == nil {
					book.applyLevel(ch.Side, ch.Price, size)
					changed = true
				}
			}
		}

	default:
		// last_trade_price / tick_size_change 与盘口无关
	}

	if changed {
		p.publishLocked()
	}
}

// publishLocked 从两个深度簿组装快照并写入通道；调用方持锁
func (p *Pump) publishLocked() {
	yes := p.books[p.market.YesAssetID]
	no := p.books[p.market.NoAssetID]
	if yes == nil || no == nil {
		return
	}

	tob := domain.TopOfBook{
		// 用本地时钟打戳：新鲜度判定在同一台机器上做，不受 venue 时钟偏移影响
		TsMs:     time.Now().UnixMilli(),
		BucketTS: p.market.BucketTS,
		YesBid:   yes.bestBid(),
		YesAsk:   yes.bestAsk(),
		NoBid:    no.bestBid(),
		NoAsk:    no.bestAsk(),
	}

	if err := p.sink.WriteSnapshot(tob); err != nil {
		log.Errorf("快照写入失败: %v", err)
	}
}
