package messages

import (
	"strings"
	"time"

	"github.com/luma/hermes/protocol"
)

// Gateway server message type IDs.
const (
	TickPriceType         = 1
	TickSizeType          = 2
	OrderStatusType       = 3
	NoticeType            = 4
	AccountValueType      = 6
	AccountUpdateTimeType = 8
	NextValidIDType       = 9
	ManagedAccountsType   = 15
	CurrentTimeType       = 49
)

// TickPrice is a price update for one market data subscription.
type TickPrice struct {
	TickerID int
	TickType int
	Price    float64

	// Size accompanies the price from message version 2 onwards. It is
	// absent when the gateway has not computed it yet.
	Size        float64
	SizePresent bool
}

func (m *TickPrice) TypeID() int { return TickPriceType }

func decodeTickPrice(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	version, err := r.ReadInt()
	if err != nil {
		return nil, err
	}

	m := &TickPrice{}

	if m.TickerID, err = r.ReadInt(); err != nil {
		return nil, err
	}

	if m.TickType, err = r.ReadInt(); err != nil {
		return nil, err
	}

	if m.Price, err = r.ReadFloat(); err != nil {
		return nil, err
	}

	if version >= 2 {
		if m.Size, m.SizePresent, err = r.ReadFloatWithLimit(-1); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// TickSize is a size update for one market data subscription.
type TickSize struct {
	TickerID int
	TickType int
	Size     float64
}

func (m *TickSize) TypeID() int { return TickSizeType }

func decodeTickSize(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	if _, err := r.ReadInt(); err != nil {
		return nil, err
	}

	m := &TickSize{}
	var err error

	if m.TickerID, err = r.ReadInt(); err != nil {
		return nil, err
	}

	if m.TickType, err = r.ReadInt(); err != nil {
		return nil, err
	}

	if m.Size, err = r.ReadFloat(); err != nil {
		return nil, err
	}

	return m, nil
}

// OrderStatus reports the current state of a working order.
type OrderStatus struct {
	OrderID      int
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64

	// PermID arrives from message version 2 onwards.
	PermID int
}

func (m *OrderStatus) TypeID() int { return OrderStatusType }

func decodeOrderStatus(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	version, err := r.ReadInt()
	if err != nil {
		return nil, err
	}

	m := &OrderStatus{}

	if m.OrderID, err = r.ReadInt(); err != nil {
		return nil, err
	}

	if m.Status, err = r.ReadField(); err != nil {
		return nil, err
	}

	if m.Filled, err = r.ReadFloat(); err != nil {
		return nil, err
	}

	if m.Remaining, err = r.ReadFloat(); err != nil {
		return nil, err
	}

	if m.AvgFillPrice, err = r.ReadFloat(); err != nil {
		return nil, err
	}

	if version >= 2 {
		if m.PermID, err = r.ReadInt(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Notice is the gateway's error/notification message. The gateway routes
// informational connection notices through it as well, distinguished only
// by their code.
type Notice struct {
	RequestID int
	Code      int
	Text      string
}

func (m *Notice) TypeID() int { return NoticeType }

// NoticeCode implements the structural notice contract the session uses to
// spot benign connection notices.
func (m *Notice) NoticeCode() int { return m.Code }

func (m *Notice) NoticeText() string { return m.Text }

func decodeNotice(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	version, err := r.ReadInt()
	if err != nil {
		return nil, err
	}

	m := &Notice{RequestID: -1}

	if version < 2 {
		m.Text, err = r.ReadField()
		return m, err
	}

	if m.RequestID, err = r.ReadInt(); err != nil {
		return nil, err
	}

	if m.Code, err = r.ReadInt(); err != nil {
		return nil, err
	}

	if m.Text, err = r.ReadField(); err != nil {
		return nil, err
	}

	return m, nil
}

// AccountValue is one key of the account state the gateway streams after an
// account updates subscription.
type AccountValue struct {
	Key      string
	Value    string
	Currency string

	// Account arrives from message version 2 onwards.
	Account string
}

func (m *AccountValue) TypeID() int { return AccountValueType }

func decodeAccountValue(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	version, err := r.ReadInt()
	if err != nil {
		return nil, err
	}

	m := &AccountValue{}

	if m.Key, err = r.ReadField(); err != nil {
		return nil, err
	}

	if m.Value, err = r.ReadField(); err != nil {
		return nil, err
	}

	if m.Currency, err = r.ReadField(); err != nil {
		return nil, err
	}

	if version >= 2 {
		if m.Account, err = r.ReadField(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// AccountUpdateTime marks the last time the streamed account state changed.
type AccountUpdateTime struct {
	Time string
}

func (m *AccountUpdateTime) TypeID() int { return AccountUpdateTimeType }

func decodeAccountUpdateTime(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	if _, err := r.ReadInt(); err != nil {
		return nil, err
	}

	m := &AccountUpdateTime{}
	var err error

	if m.Time, err = r.ReadField(); err != nil {
		return nil, err
	}

	return m, nil
}

// NextValidID carries the first order ID the client may use. The session
// captures it to seed its next-order-id exactly once.
type NextValidID struct {
	OrderID int
}

func (m *NextValidID) TypeID() int { return NextValidIDType }

// NextOrderID implements the structural contract the session uses to seed
// its next-order-id.
func (m *NextValidID) NextOrderID() int { return m.OrderID }

func decodeNextValidID(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	if _, err := r.ReadInt(); err != nil {
		return nil, err
	}

	m := &NextValidID{}
	var err error

	if m.OrderID, err = r.ReadInt(); err != nil {
		return nil, err
	}

	return m, nil
}

// ManagedAccounts lists the account codes this session may act on.
type ManagedAccounts struct {
	Accounts []string
}

func (m *ManagedAccounts) TypeID() int { return ManagedAccountsType }

func decodeManagedAccounts(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	if _, err := r.ReadInt(); err != nil {
		return nil, err
	}

	field, err := r.ReadField()
	if err != nil {
		return nil, err
	}

	m := &ManagedAccounts{}
	if field != "" {
		m.Accounts = strings.Split(field, ",")
	}

	return m, nil
}

// CurrentTime is the gateway's clock, in response to a time request.
type CurrentTime struct {
	Time time.Time
}

func (m *CurrentTime) TypeID() int { return CurrentTimeType }

func decodeCurrentTime(r *protocol.Reader, serverVersion int) (protocol.Message, error) {
	if _, err := r.ReadInt(); err != nil {
		return nil, err
	}

	seconds, err := r.ReadInt()
	if err != nil {
		return nil, err
	}

	return &CurrentTime{Time: time.Unix(int64(seconds), 0)}, nil
}
