package execution

import (
	"strconv"
	"strings"
	"time"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
)

// 成交事件归一化。REST /data/trades 与用户 WS 的 trade 消息字段略有不同，
// 这里统一翻译成 domain.FillEvent，去重键 {trade_id}:{角色}:{order_id}
// 保证同一笔成交从两条链路到达时 ID 一致。

const (
	roleTaker = "taker"
	roleMaker = "maker"
)

// fillsFromTrade 把 REST 成交记录展开成属于我们的成交事件。
// TraderSide 直接给出角色；maker 角色时逐条展开自己的挂单明细。
func fillsFromTrade(t types.Trade, market domain.Market, ownerAPIKey string) []domain.FillEvent {
	at := parseUnixLoose(t.MatchTime)
	status := domain.ParseFillStatus(t.Status)

	if strings.EqualFold(t.TraderSide, "TAKER") {
		leg, ok := market.LegForAssetID(t.AssetID)
		if !ok {
			return nil
		}
		return []domain.FillEvent{{
			ID:      domain.FillID(t.ID, roleTaker, t.TakerOrderID),
			TradeID: t.ID,
			OrderID: t.TakerOrderID,
			AssetID: t.AssetID,
			Leg:     leg,
			Side:    t.Side,
			Price:   domain.PriceFromDecimal(parseFloatLoose(t.Price)),
			Size:    parseFloatLoose(t.Size),
			Status:  status,
			At:      at,
		}}
	}

	var out []domain.FillEvent
	for _, mo := range t.MakerOrders {
		if ownerAPIKey != "" && mo.Owner != ownerAPIKey {
			continue
		}
		leg, ok := market.LegForAssetID(mo.AssetID)
		if !ok {
			continue
		}
		side := mo.Side
		if side == "" {
			side = makerSideFor(mo.AssetID, t.AssetID, t.Side)
		}
		out = append(out, domain.FillEvent{
			ID:      domain.FillID(t.ID, roleMaker, mo.OrderID),
			TradeID: t.ID,
			OrderID: mo.OrderID,
			AssetID: mo.AssetID,
			Leg:     leg,
			Side:    side,
			Price:   domain.PriceFromDecimal(parseFloatLoose(mo.Price)),
			Size:    parseFloatLoose(mo.MatchedAmount),
			Status:  status,
			At:      at,
		})
	}
	return out
}

// fillsFromUserTrade 把用户 WS 的 trade 消息展开成属于我们的成交事件。
// owner 字段是 taker 的 api key；maker 明细不带 side，按资产推断。
func fillsFromUserTrade(msg websocket.UserTradeMessage, market domain.Market, ownerAPIKey string) []domain.FillEvent {
	at := parseUnixLoose(msg.MatchTime)
	status := domain.ParseFillStatus(msg.Status)
	takerSide := types.Side(strings.ToUpper(msg.Side))

	var out []domain.FillEvent
	if ownerAPIKey == "" || msg.Owner == ownerAPIKey {
		if leg, ok := market.LegForAssetID(msg.AssetID); ok {
			out = append(out, domain.FillEvent{
				ID:      domain.FillID(msg.ID, roleTaker, msg.TakerOrderID),
				TradeID: msg.ID,
				OrderID: msg.TakerOrderID,
				AssetID: msg.AssetID,
				Leg:     leg,
				Side:    takerSide,
				Price:   domain.PriceFromDecimal(parseFloatLoose(msg.Price)),
				Size:    parseFloatLoose(msg.Size),
				Status:  status,
				At:      at,
			})
		}
	}

	for _, mo := range msg.MakerOrders {
		if ownerAPIKey != "" && mo.Owner != ownerAPIKey {
			continue
		}
		leg, ok := market.LegForAssetID(mo.AssetID)
		if !ok {
			continue
		}
		out = append(out, domain.FillEvent{
			ID:      domain.FillID(msg.ID, roleMaker, mo.OrderID),
			TradeID: msg.ID,
			OrderID: mo.OrderID,
			AssetID: mo.AssetID,
			Leg:     leg,
			Side:    makerSideFor(mo.AssetID, msg.AssetID, takerSide),
			Price:   domain.PriceFromDecimal(parseFloatLoose(mo.Price)),
			Size:    parseFloatLoose(mo.MatchedAmount),
			Status:  status,
			At:      at,
		})
	}
	return out
}

// makerSideFor 推断 maker 挂单方向。
// 同资产撮合时 maker 在 taker 对侧；跨资产撮合（YES 买对 NO 买铸造、
// 双卖销毁）时 maker 与 taker 同向。
func makerSideFor(makerAsset, takerAsset string, takerSide types.Side) types.Side {
	if makerAsset == takerAsset {
		return takerSide.Opposite()
	}
	return takerSide
}

// parseUnixLoose 解析秒或毫秒的 unix 时间戳字符串；空/坏值返回零值时间
func parseUnixLoose(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if f, ferr := strconv.ParseFloat(raw, 64); ferr == nil {
			v = int64(f)
		} else {
			return time.Time{}
		}
	}
	if v <= 0 {
		return time.Time{}
	}
	if v > 1_000_000_000_000 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

func parseFloatLoose(raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return f
}
