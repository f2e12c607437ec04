package protocol

import (
	"slices"
	"strings"

	"github.com/coachpo/cntrade/errs"
	"github.com/coachpo/cntrade/internal/domain/schema"
)

// Protocol tags understood by the gateway.
const (
	ProtoHeartbeat     = 1008
	ProtoGlobalState   = 1029
	ProtoSwitchAccount = 1037
	ProtoKLine         = 1038
	ProtoPlaceOrder    = 5003
	ProtoSetStatus     = 5004
	ProtoModifyOrder   = 5005
	ProtoAccountInfo   = 5007
	ProtoOrderList     = 5008
	ProtoPositionList  = 5009
	ProtoDealList      = 5010
	ProtoHistoryOrders = 5011
	ProtoHistoryDeals  = 5012
	ProtoSubscribe     = 5100
	ProtoUnlock        = 6006
	ProtoOrderPush     = 6200
	ProtoDealPush      = 6201
)

// Name returns a short label for a protocol tag, used in logs and metrics.
func Name(protocol int) string {
	switch protocol {
	case ProtoHeartbeat:
		return "heartbeat"
	case ProtoGlobalState:
		return "global_state"
	case ProtoSwitchAccount:
		return "switch_account"
	case ProtoKLine:
		return "kline"
	case ProtoPlaceOrder:
		return "place_order"
	case ProtoSetStatus:
		return "set_order_status"
	case ProtoModifyOrder:
		return "modify_order"
	case ProtoAccountInfo:
		return "account_info"
	case ProtoOrderList:
		return "order_list"
	case ProtoPositionList:
		return "position_list"
	case ProtoDealList:
		return "deal_list"
	case ProtoHistoryOrders:
		return "history_orders"
	case ProtoHistoryDeals:
		return "history_deals"
	case ProtoSubscribe:
		return "subscribe"
	case ProtoUnlock:
		return "unlock"
	case ProtoOrderPush:
		return "order_push"
	case ProtoDealPush:
		return "deal_push"
	default:
		return "unknown"
	}
}

// Dialect captures what differs between gateway regions.
type Dialect struct {
	Region  string
	Envs    []schema.Env
	Markets []schema.Market

	OrderArrayKey        string
	PositionArrayKey     string
	DealArrayKey         string
	HistoryOrderArrayKey string
	HistoryDealArrayKey  string
}

// RegionCN is the A-share region.
const RegionCN = "cn"

var dialects = map[string]Dialect{
	RegionCN: {
		Region:               RegionCN,
		Envs:                 []schema.Env{schema.EnvLive},
		Markets:              []schema.Market{schema.MarketSH, schema.MarketSZ},
		OrderArrayKey:        "HKOrderArr",
		PositionArrayKey:     "HKPositionArr",
		DealArrayKey:         "HKDealArr",
		HistoryOrderArrayKey: "CNOrderArr",
		HistoryDealArrayKey:  "CNDealArr",
	},
}

// LookupDialect resolves a region name.
func LookupDialect(region string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(region))
	if key == "" {
		key = RegionCN
	}
	d, ok := dialects[key]
	if !ok {
		return Dialect{}, errs.Invalid(0, "unsupported region "+region)
	}
	return d, nil
}

// SupportsEnv reports whether trading in env is possible for this region.
func (d Dialect) SupportsEnv(env schema.Env) bool {
	return slices.Contains(d.Envs, env)
}

func (d Dialect) checkEnv(protocol int, env schema.Env) error {
	if d.SupportsEnv(env) {
		return nil
	}
	return errs.New(protocol, errs.CodeInvalid,
		errs.WithMessage("the type of environment param is wrong"),
		errs.WithField("env", env.Wire()),
		errs.WithField("region", d.Region))
}

func (d Dialect) parseSymbol(protocol int, raw string) (schema.Symbol, error) {
	sym, err := schema.ParseSymbol(raw)
	if err != nil {
		return schema.Symbol{}, errs.New(protocol, errs.CodeInvalid, errs.WithMessage(err.Error()))
	}
	if !slices.Contains(d.Markets, sym.Market) {
		return schema.Symbol{}, errs.New(protocol, errs.CodeInvalid,
			errs.WithMessage("the type of stocks is wrong"),
			errs.WithField("symbol", raw))
	}
	return sym, nil
}

// optionalCode resolves an optional symbol filter to its bare code.
func (d Dialect) optionalCode(protocol int, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	sym, err := d.parseSymbol(protocol, raw)
	if err != nil {
		return "", err
	}
	return sym.Code, nil
}

// Session is the per-connection request context.
type Session struct {
	Cookie  string
	Dialect Dialect
}

// NewSession builds a session for the given connection cookie and region.
func NewSession(cookie, region string) (Session, error) {
	d, err := LookupDialect(region)
	if err != nil {
		return Session{}, err
	}
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		return Session{}, errs.Invalid(0, "session cookie required")
	}
	return Session{Cookie: cookie, Dialect: d}, nil
}
