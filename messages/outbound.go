package messages

// Client request type IDs.
const (
	RequestMarketDataType     = 1
	RequestAccountUpdatesType = 6
	RequestIDsType            = 8
	RequestCurrentTimeType    = 49
)

// RequestIDs asks the gateway for the next valid order ID. The reply
// arrives as a NextValidID message.
type RequestIDs struct {
	// NumIDs is how many IDs to reserve. The gateway treats anything
	// other than 1 the same way, but the field is still on the wire.
	NumIDs int
}

func (m *RequestIDs) Encode() ([]interface{}, error) {
	numIDs := m.NumIDs
	if numIDs < 1 {
		numIDs = 1
	}

	return []interface{}{RequestIDsType, 1, numIDs}, nil
}

// RequestCurrentTime asks the gateway for its clock.
type RequestCurrentTime struct{}

func (m *RequestCurrentTime) Encode() ([]interface{}, error) {
	return []interface{}{RequestCurrentTimeType, 1}, nil
}

// RequestAccountUpdates starts or stops the account state stream for one
// account code.
type RequestAccountUpdates struct {
	Subscribe   bool
	AccountCode string
}

func (m *RequestAccountUpdates) Encode() ([]interface{}, error) {
	return []interface{}{RequestAccountUpdatesType, 2, m.Subscribe, m.AccountCode}, nil
}

// RequestMarketData subscribes to tick updates for one contract.
type RequestMarketData struct {
	TickerID int
	Symbol   string
	SecType  string
	Exchange string
	Currency string
}

func (m *RequestMarketData) Encode() ([]interface{}, error) {
	return []interface{}{
		RequestMarketDataType,
		1,
		m.TickerID,
		m.Symbol,
		m.SecType,
		m.Exchange,
		m.Currency,
	}, nil
}
