package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/betbot/bucketmm/clob/signing"
	"github.com/betbot/bucketmm/clob/types"
)

// RoundConfig 舍入配置
type RoundConfig struct {
	Price  int32 // 价格小数位数
	Size   int32 // 数量小数位数
	Amount int32 // 金额小数位数
}

// RoundingConfig 根据 tick size 返回舍入配置
var RoundingConfig = map[types.TickSize]RoundConfig{
	types.TickSize01: {
		Price:  1,
		Size:   2,
		Amount: 3,
	},
	types.TickSize001: {
		Price:  2,
		Size:   2,
		Amount: 4,
	},
	types.TickSize0001: {
		Price:  3,
		Size:   2,
		Amount: 5,
	},
	types.TickSize00001: {
		Price:  4,
		Size:   2,
		Amount: 6,
	},
}

// OrderBuilder 订单构建器
type OrderBuilder struct {
	client        *Client
	signatureType types.SignatureType
	funderAddress string
}

// NewOrderBuilder 创建新的订单构建器
func NewOrderBuilder(client *Client, signatureType types.SignatureType, funderAddress string) *OrderBuilder {
	return &OrderBuilder{
		client:        client,
		signatureType: signatureType,
		funderAddress: funderAddress,
	}
}

// BuildOrder 构建并签名订单
func (ob *OrderBuilder) BuildOrder(ctx context.Context, userOrder *types.UserOrder, options *types.CreateOrderOptions) (*types.SignedOrder, error) {
	contractConfig, err := GetContractConfig(ob.client.GetChainID())
	if err != nil {
		return nil, fmt.Errorf("获取合约配置失败: %w", err)
	}

	roundConfig, ok := RoundingConfig[options.TickSize]
	if !ok {
		return nil, fmt.Errorf("不支持的 tick size: %s", options.TickSize)
	}

	signerAddress := crypto.PubkeyToAddress(ob.client.authConfig.PrivateKey.PublicKey)

	// maker 是出资账户；未指定 funder 时用签名账户本身
	maker := signerAddress.Hex()
	if ob.funderAddress != "" {
		maker = ob.funderAddress
	}

	rawMakerAmt, rawTakerAmt := getOrderRawAmounts(
		userOrder.Side,
		userOrder.Size,
		userOrder.Price,
		roundConfig,
	)

	// 转换为最小单位（USDC 与条件代币精度均为 6）
	makerAmount := parseUnits(rawMakerAmt, CollateralTokenDecimals)
	takerAmount := parseUnits(rawTakerAmt, ConditionalTokenDecimals)

	taker := "0x0000000000000000000000000000000000000000"
	if userOrder.Taker != nil && *userOrder.Taker != "" {
		taker = *userOrder.Taker
	}

	feeRateBps := big.NewInt(0)
	if userOrder.FeeRateBps != nil {
		feeRateBps = big.NewInt(int64(*userOrder.FeeRateBps))
	}

	nonce := big.NewInt(0)
	if userOrder.Nonce != nil {
		nonce = big.NewInt(int64(*userOrder.Nonce))
	}

	expiration := big.NewInt(0)
	if userOrder.Expiration != nil {
		expiration = big.NewInt(*userOrder.Expiration)
	}

	// salt 用当前时间戳纳秒
	salt := time.Now().UnixNano()

	tokenID := new(big.Int)
	tokenID, ok = tokenID.SetString(userOrder.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("无效的 tokenID: %s", userOrder.TokenID)
	}

	// NegRisk 市场走专用交易所合约
	exchangeAddress := contractConfig.Exchange
	if options.NegRisk != nil && *options.NegRisk {
		exchangeAddress = contractConfig.NegRiskExchange
	}

	orderData := &signing.OrderData{
		Salt:          salt,
		Maker:         maker,
		Signer:        signerAddress.Hex(),
		Taker:         taker,
		TokenID:       tokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    expiration,
		Nonce:         nonce,
		FeeRateBps:    feeRateBps,
		Side:          userOrder.Side,
		SignatureType: ob.signatureType,
	}

	signature, err := signing.BuildOrderSignature(
		ob.client.authConfig.PrivateKey,
		ob.client.GetChainID(),
		exchangeAddress,
		orderData,
	)
	if err != nil {
		return nil, fmt.Errorf("签名订单失败: %w", err)
	}

	signedOrder := &types.SignedOrder{
		Salt:          salt,
		Maker:         maker,
		Signer:        signerAddress.Hex(),
		Taker:         taker,
		TokenID:       userOrder.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    expiration.String(),
		Nonce:         nonce.String(),
		FeeRateBps:    feeRateBps.String(),
		Side:          userOrder.Side,
		SignatureType: int(ob.signatureType),
		Signature:     signature,
	}

	return signedOrder, nil
}

// getOrderRawAmounts 计算订单的 maker/taker 金额（十进制精确计算，避免浮点误差）
func getOrderRawAmounts(
	side types.Side,
	size float64,
	price float64,
	roundConfig RoundConfig,
) (rawMakerAmt decimal.Decimal, rawTakerAmt decimal.Decimal) {
	rawPrice := decimal.NewFromFloat(price).Round(roundConfig.Price)

	if side == types.SideBuy {
		// 买入：taker 获得 tokens，maker 支付 USDC
		rawTakerAmt = decimal.NewFromFloat(size).RoundFloor(roundConfig.Size)

		rawMakerAmt = rawTakerAmt.Mul(rawPrice)
		if decimalPlaces(rawMakerAmt) > roundConfig.Amount {
			rawMakerAmt = rawMakerAmt.RoundCeil(roundConfig.Amount + 4)
			if decimalPlaces(rawMakerAmt) > roundConfig.Amount {
				rawMakerAmt = rawMakerAmt.RoundFloor(roundConfig.Amount)
			}
		}
	} else {
		// 卖出：maker 给出 tokens，taker 支付 USDC
		rawMakerAmt = decimal.NewFromFloat(size).RoundFloor(roundConfig.Size)

		rawTakerAmt = rawMakerAmt.Mul(rawPrice)
		if decimalPlaces(rawTakerAmt) > roundConfig.Amount {
			rawTakerAmt = rawTakerAmt.RoundCeil(roundConfig.Amount + 4)
			if decimalPlaces(rawTakerAmt) > roundConfig.Amount {
				rawTakerAmt = rawTakerAmt.RoundFloor(roundConfig.Amount)
			}
		}
	}

	return rawMakerAmt, rawTakerAmt
}

// decimalPlaces 返回小数位数
func decimalPlaces(d decimal.Decimal) int32 {
	exp := d.Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// parseUnits 将金额转换为链上最小单位（类似 ethers.js 的 parseUnits，多余位截断）
func parseUnits(value decimal.Decimal, decimals int32) *big.Int {
	return value.Shift(decimals).Truncate(0).BigInt()
}
