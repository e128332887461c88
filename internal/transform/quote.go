package transform

import (
	"sort"
	"strings"

	"github.com/milkywaybrain/bondetl/internal/model"
	"github.com/milkywaybrain/bondetl/internal/source"
	"github.com/rs/zerolog/log"
)

// Raw depth side flags.
const (
	entryBid   = 0
	entryOffer = 1
)

// XBond instruments are loaded with the interbank market suffix.
const interbankSuffix = ".IB"

// GroupDepthRows splits raw depth rows into snapshots keyed by (mq_offset, security id).
// Groups keep the order in which their first row appeared.
func GroupDepthRows(rows []source.DepthRow) [][]source.DepthRow {
	type key struct{ offset, security string }
	index := make(map[key]int)
	var groups [][]source.DepthRow
	for _, r := range rows {
		k := key{strings.TrimSpace(r.MQOffset), strings.TrimSpace(r.SecurityID)}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	return groups
}

// settleSpeedFromSettlementType maps the depth feed settlement code.
// Code 1 is same day, every other code is next day.
func settleSpeedFromSettlementType(code int64) model.SettleSpeed {
	if code == 1 {
		return model.SameDay
	}
	return model.NextDay
}

type depthEntry struct {
	level     int64
	side      int64
	price     float64
	yield     *float64
	yieldType model.YieldType
	size      int64
}

func parseDepthEntry(r source.DepthRow) (depthEntry, error) {
	var (
		e   depthEntry
		err error
	)
	if e.level, err = parseInt("underlying_md_price_level", r.PriceLevel); err != nil {
		return e, err
	}
	if e.side, err = parseInt("underlying_md_entry_type", r.EntryType); err != nil {
		return e, err
	}
	if e.price, err = parseFloat("underlying_md_entry_px", r.EntryPx); err != nil {
		return e, err
	}
	if e.yield, err = parseOptionalFloat("underlying_md_yield", r.Yield); err != nil {
		return e, err
	}
	if e.yieldType, err = parseYieldType("underlying_md_yield_type", r.YieldType); err != nil {
		return e, err
	}
	if e.size, err = parseInt("underlying_md_entry_size", r.EntrySize); err != nil {
		return e, err
	}
	return e, nil
}

// Quote builds one order book snapshot from a group of depth rows sharing
// (mq_offset, security id). It returns nil without error when the group has
// no receive time.
func (n *Normalizer) Quote(group []source.DepthRow) (*model.Quote, error) {
	if len(group) == 0 {
		return nil, nil
	}
	head := group[0]
	securityID := strings.TrimSpace(head.SecurityID) + interbankSuffix

	businessDate, err := n.parseDate("business_date", head.BusinessDate)
	if err != nil {
		return nil, err
	}
	settlementType, err := parseInt("underlying_settlement_type", head.SettlementType)
	if err != nil {
		return nil, err
	}

	b := model.NewQuoteBuilder(businessDate, securityID)
	b.SettleSpeed(settleSpeedFromSettlementType(settlementType))

	if strings.TrimSpace(head.TransactTime) != "" {
		eventTime, err := n.parseTimestamp("transact_time", head.TransactTime)
		if err != nil {
			return nil, err
		}
		b.EventTime(eventTime)
	}

	if strings.TrimSpace(head.RecvTime) == "" {
		log.Warn().Str("security_id", securityID).Str("mq_offset", head.MQOffset).Msg("quote without receive time skipped")
		return nil, nil
	}
	recvTime, err := n.parseTimestamp("recv_time", head.RecvTime)
	if err != nil {
		return nil, err
	}
	b.ReceiveTime(recvTime)

	entries := make([]depthEntry, 0, len(group))
	for _, r := range group {
		e, err := parseDepthEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].level != entries[j].level {
			return entries[i].level < entries[j].level
		}
		return entries[i].side < entries[j].side
	})

	for _, e := range entries {
		if e.level < 1 || e.level > model.QuoteDepth {
			continue
		}
		slot := int(e.level - 1)
		l := model.QuoteLevel{
			Price:     model.Float64(e.price),
			Yield:     e.yield,
			YieldType: e.yieldType,
			Volume:    model.Int64(e.size),
		}
		// Best level tradable volume is always reported as zero.
		if slot == 0 {
			l.TradableVolume = model.Int64(0)
		} else {
			l.TradableVolume = model.Int64(e.size)
		}
		switch e.side {
		case entryBid:
			b.Bid(slot, l)
		case entryOffer:
			b.Offer(slot, l)
		}
	}
	return b.Build()
}

// Quotes groups the day's depth rows and builds one quote per group.
// Groups that fail are dropped and logged, the rest are kept.
func (n *Normalizer) Quotes(rows []source.DepthRow) Result {
	var res Result
	for _, group := range GroupDepthRows(rows) {
		group := group
		res.collect(model.KindQuote, group[0].SecurityID+"@"+group[0].MQOffset, func() (model.Record, error) {
			q, err := n.Quote(group)
			if q == nil {
				return nil, err
			}
			return q, err
		})
	}
	return res
}
