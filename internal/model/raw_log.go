package model

// RawLog is a contract log as returned by the chain node. It is decoded
// immediately and never persisted as-is.
type RawLog struct {
	ContractAddress string   `json:"contract_address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash"`
	TxHash          string   `json:"tx_hash"`
	LogIndex        uint64   `json:"log_index"`
	Removed         bool     `json:"removed"`
}

// Topic0 returns the event signature topic, or "" for anonymous logs.
func (l RawLog) Topic0() string {
	if len(l.Topics) == 0 {
		return ""
	}
	return l.Topics[0]
}
