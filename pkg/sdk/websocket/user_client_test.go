package websocket

import (
	"testing"
	"time"

	"github.com/betbot/bucketmm/clob/types"
)

func testCreds() *types.ApiKeyCreds {
	return &types.ApiKeyCreds{
		Key:        "test-key",
		Secret:     "test-secret",
		Passphrase: "test-passphrase",
	}
}

// TestUserClient_New 测试创建客户端
func TestUserClient_New(t *testing.T) {
	client, err := NewUserClient(testCreds(), nil)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if client.creds.Key != "test-key" {
		t.Error("凭证应该被设置")
	}
	if client.markets == nil {
		t.Error("市场映射应该被初始化")
	}

	// 缺凭证必须报错
	if _, err := NewUserClient(nil, nil); err == nil {
		t.Error("nil 凭证应该报错")
	}
	if _, err := NewUserClient(&types.ApiKeyCreds{}, nil); err == nil {
		t.Error("空 key 应该报错")
	}
}

// TestUserClient_SubscribeMarkets 测试订阅映射维护
func TestUserClient_SubscribeMarkets(t *testing.T) {
	client, _ := NewUserClient(testCreds(), nil)

	_ = client.SubscribeMarkets("0xcond1", "0xcond2")
	client.subMu.RLock()
	if len(client.markets) != 2 {
		t.Errorf("期望 2 个订阅，得到 %d", len(client.markets))
	}
	client.subMu.RUnlock()

	client.UnsubscribeMarkets("0xcond1")
	client.subMu.RLock()
	if client.markets["0xcond1"] {
		t.Error("0xcond1 应该被移除")
	}
	if !client.markets["0xcond2"] {
		t.Error("0xcond2 应该保留")
	}
	client.subMu.RUnlock()
}

// TestUserClient_HandleTradeMessage 测试成交消息分发
func TestUserClient_HandleTradeMessage(t *testing.T) {
	client, _ := NewUserClient(testCreds(), nil)

	raw := `{"event_type":"trade","id":"t-1","asset_id":"tok","side":"BUY","size":"5","price":"0.62","status":"MATCHED","type":"TRADE"}`
	client.handleMessage([]byte(raw))

	select {
	case trade := <-client.Trades():
		if trade.ID != "t-1" || trade.Status != "MATCHED" {
			t.Errorf("成交消息解析不正确: %+v", trade)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("应该收到成交消息")
	}
}

// TestUserClient_HandleOrderMessage 测试订单消息分发（数组载荷）
func TestUserClient_HandleOrderMessage(t *testing.T) {
	client, _ := NewUserClient(testCreds(), nil)

	raw := `[{"event_type":"order","id":"0xo1","status":"LIVE","size_matched":"0","type":"PLACEMENT"}]`
	client.handleMessage([]byte(raw))

	select {
	case order := <-client.Orders():
		if order.ID != "0xo1" || order.Type != "PLACEMENT" {
			t.Errorf("订单消息解析不正确: %+v", order)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("应该收到订单消息")
	}
}

// TestUserClient_HandlePong 测试 PONG 不进业务通道
func TestUserClient_HandlePong(t *testing.T) {
	client, _ := NewUserClient(testCreds(), nil)
	client.handleMessage([]byte("PONG"))

	select {
	case <-client.Trades():
		t.Error("PONG 不应该产生成交消息")
	case <-client.Orders():
		t.Error("PONG 不应该产生订单消息")
	case <-time.After(10 * time.Millisecond):
	}
}

// TestUserClient_Stop 测试未启动时停止不 panic
func TestUserClient_Stop(t *testing.T) {
	client, _ := NewUserClient(testCreds(), nil)
	client.Stop()
	if client.IsRunning() {
		t.Error("停止后不应该运行")
	}
}
