package accounts

import (
	"go.uber.org/multierr"

	"github.com/luma/hermes/client"
	"github.com/luma/hermes/messages"
	"github.com/luma/hermes/protocol"
)

// Mirror subscribes the snapshot to a session's account stream. Account
// values land under "<account>.<key>" with their value and currency;
// the managed account list and last update time land under "meta".
func Mirror(conn *client.Conn, snapshot *Snapshot) error {
	err := conn.Subscribe(messages.AccountValueType, func(msg protocol.Message) {
		m, ok := msg.(*messages.AccountValue)
		if !ok {
			return
		}

		account := m.Account
		if account == "" {
			account = "default"
		}

		snapshot.Set(account+"."+m.Key+".value", m.Value)

		if m.Currency != "" {
			snapshot.Set(account+"."+m.Key+".currency", m.Currency)
		}
	})

	err = multierr.Append(err, conn.Subscribe(messages.AccountUpdateTimeType, func(msg protocol.Message) {
		m, ok := msg.(*messages.AccountUpdateTime)
		if !ok {
			return
		}

		snapshot.Set("meta.updatedAt", m.Time)
	}))

	err = multierr.Append(err, conn.Subscribe(messages.ManagedAccountsType, func(msg protocol.Message) {
		m, ok := msg.(*messages.ManagedAccounts)
		if !ok {
			return
		}

		snapshot.Set("meta.accounts", m.Accounts)
	}))

	return err
}
