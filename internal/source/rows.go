package source

// DepthRow is one line of an XBond AllPriceDepth file.
// All fields stay textual so a malformed value fails only its own quote group.
type DepthRow struct {
	BusinessDate   string `csv:"business_date"`
	SecurityID     string `csv:"underlying_security_id"`
	SettlementType string `csv:"underlying_settlement_type"`
	TransactTime   string `csv:"transact_time"`
	RecvTime       string `csv:"recv_time"`
	MQOffset       string `csv:"mq_offset"`
	PriceLevel     string `csv:"underlying_md_price_level"`
	EntryType      string `csv:"underlying_md_entry_type"`
	EntryPx        string `csv:"underlying_md_entry_px"`
	Yield          string `csv:"underlying_md_yield"`
	YieldType      string `csv:"underlying_md_yield_type"`
	EntrySize      string `csv:"underlying_md_entry_size"`
}

// DealRow is one line of an XBond CFETS deal file.
type DealRow struct {
	BusinessDate string `csv:"business_date"`
	BondKey      string `csv:"bond_key"`
	NetPrice     string `csv:"net_price"`
	SetDays      string `csv:"set_days"`
	Yield        string `csv:"yield"`
	YieldType    string `csv:"yield_type"`
	DealSize     string `csv:"deal_size"`
	Side         string `csv:"side"`
	DealTime     string `csv:"deal_time"`
	RecvTime     string `csv:"recv_time"`
}

// TickRow is one row of the futures tick table keyed by column name.
// Values are whatever the SQL driver scanned: int64, float64, []byte, string, time.Time or nil.
type TickRow map[string]interface{}
