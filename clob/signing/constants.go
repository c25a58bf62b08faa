package signing

// L1 认证的 EIP-712 域参数与声明文本，交易所侧写死，不可配置。
const (
	ClobDomainName = "ClobAuthDomain"
	ClobVersion    = "1"
	MsgToSign      = "This message attests that I control the given wallet"
)
