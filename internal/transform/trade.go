package transform

import (
	"strings"

	"github.com/milkywaybrain/bondetl/internal/model"
	"github.com/milkywaybrain/bondetl/internal/source"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var tradeSides = map[string]model.TradeSide{
	"X": model.SideTaken,
	"Y": model.SideGiven,
	"Z": model.SideTrade,
	"D": model.SideDone,
}

// ErrUnknownSide is returned for a deal side code outside X, Y, Z and D.
var ErrUnknownSide = errors.New("unknown trade side")

// TradeSideFromCode maps a deal side code to its enum.
func TradeSideFromCode(code string) (model.TradeSide, error) {
	s, ok := tradeSides[strings.TrimSpace(code)]
	if !ok {
		return "", &ParseError{Field: "side", Value: code, Err: ErrUnknownSide}
	}
	return s, nil
}

// settleSpeedFromSetDays maps the deal tenor, only "T+0" settles same day.
func settleSpeedFromSetDays(setDays string) model.SettleSpeed {
	if strings.TrimSpace(setDays) == "T+0" {
		return model.SameDay
	}
	return model.NextDay
}

// Trade builds one trade from a deal row. A missing receive time falls back
// to the deal time.
func (n *Normalizer) Trade(r source.DealRow) (*model.Trade, error) {
	bondKey := strings.TrimSpace(r.BondKey)
	businessDate, err := n.parseDate("business_date", r.BusinessDate)
	if err != nil {
		return nil, err
	}
	b := model.NewTradeBuilder(businessDate, bondKey)

	price, err := parseFloat("net_price", r.NetPrice)
	if err != nil {
		return nil, err
	}
	b.LastPrice(price)
	b.SettleSpeed(settleSpeedFromSetDays(r.SetDays))

	yield, err := parseOptionalFloat("yield", r.Yield)
	if err != nil {
		return nil, err
	}
	if yield != nil {
		b.LastYield(*yield)
	}
	if strings.TrimSpace(r.YieldType) != "" {
		code, err := parseInt("yield_type", r.YieldType)
		if err != nil {
			return nil, err
		}
		b.LastYieldType(yieldTypeFromCode(code))
	}

	size, err := parseInt("deal_size", r.DealSize)
	if err != nil {
		return nil, err
	}
	b.LastVolume(size)

	side, err := TradeSideFromCode(r.Side)
	if err != nil {
		return nil, err
	}
	b.Side(side)

	dealTime, err := n.parseTimestamp("deal_time", r.DealTime)
	if err != nil {
		return nil, err
	}
	b.EventTime(dealTime)

	if strings.TrimSpace(r.RecvTime) == "" {
		log.Warn().Str("bond_key", bondKey).Msg("trade without receive time, using deal time")
		b.ReceiveTime(dealTime)
	} else {
		recvTime, err := n.parseTimestamp("recv_time", r.RecvTime)
		if err != nil {
			return nil, err
		}
		b.ReceiveTime(recvTime)
	}
	return b.Build()
}

// Trades builds one trade per deal row, dropping and logging rows that fail.
func (n *Normalizer) Trades(rows []source.DealRow) Result {
	var res Result
	for _, r := range rows {
		r := r
		res.collect(model.KindTrade, r.BondKey, func() (model.Record, error) {
			t, err := n.Trade(r)
			if t == nil {
				return nil, err
			}
			return t, err
		})
	}
	return res
}
