package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cosmicduel/duel-server/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Requester is the request/reply half of a NATS connection
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Request is the payload sent to every ledger subject
type Request struct {
	Address string `json:"address,omitempty"`
	GameID  string `json:"gameId,omitempty"`
	Winner  string `json:"winner,omitempty"`
	Amount  int64  `json:"amount,omitempty"`
}

// Reply is the custody backend's answer. Err is set when the call failed.
type Reply struct {
	Balance int64  `json:"balance"`
	OK      bool   `json:"ok"`
	Err     string `json:"err,omitempty"`
}

// NATSLedger is a StakeLedger backed by a custody service answering on
// <prefix>.balance, <prefix>.lock and <prefix>.transfer.
type NATSLedger struct {
	conn   Requester
	prefix string
}

// NewNATSLedger creates a ledger client over conn
func NewNATSLedger(conn Requester, prefix string) *NATSLedger {
	return &NATSLedger{conn: conn, prefix: prefix}
}

var _ StakeLedger = (*NATSLedger)(nil)

// Connect dials the broker described by cfg
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

func (l *NATSLedger) subject(op string) string {
	return l.prefix + "." + op
}

func (l *NATSLedger) call(ctx context.Context, op string, req Request) (*Reply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}
	msg, err := l.conn.RequestWithContext(ctx, l.subject(op), data)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", op, err)
	}
	if reply.Err != "" {
		return nil, fmt.Errorf("%s rejected: %s", op, reply.Err)
	}
	return &reply, nil
}

func (l *NATSLedger) GetBalance(ctx context.Context, address string) (int64, error) {
	reply, err := l.call(ctx, "balance", Request{Address: address})
	if err != nil {
		return 0, err
	}
	return reply.Balance, nil
}

func (l *NATSLedger) LockStake(ctx context.Context, address string, amount int64, gameID string) (bool, error) {
	reply, err := l.call(ctx, "lock", Request{Address: address, Amount: amount, GameID: gameID})
	if err != nil {
		return false, err
	}
	return reply.OK, nil
}

func (l *NATSLedger) TransferStake(ctx context.Context, gameID, winner string, amount int64) (bool, error) {
	reply, err := l.call(ctx, "transfer", Request{GameID: gameID, Winner: winner, Amount: amount})
	if err != nil {
		return false, err
	}
	return reply.OK, nil
}

// Serve answers ledger subjects on nc from backend. It lets a process act as
// the custody service, which the demo deployment and integration tests use.
func Serve(nc *nats.Conn, prefix string, backend StakeLedger, logger *zap.Logger) ([]*nats.Subscription, error) {
	handlers := map[string]func(ctx context.Context, req Request) Reply{
		"balance": func(ctx context.Context, req Request) Reply {
			b, err := backend.GetBalance(ctx, req.Address)
			return replyOf(b, true, err)
		},
		"lock": func(ctx context.Context, req Request) Reply {
			ok, err := backend.LockStake(ctx, req.Address, req.Amount, req.GameID)
			return replyOf(0, ok, err)
		},
		"transfer": func(ctx context.Context, req Request) Reply {
			ok, err := backend.TransferStake(ctx, req.GameID, req.Winner, req.Amount)
			return replyOf(0, ok, err)
		},
	}

	subs := make([]*nats.Subscription, 0, len(handlers))
	for op, handle := range handlers {
		subject := prefix + "." + op
		sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
			var req Request
			reply := Reply{Err: "malformed request"}
			if err := json.Unmarshal(m.Data, &req); err == nil {
				reply = handle(context.Background(), req)
			}
			data, _ := json.Marshal(reply)
			if err := m.Respond(data); err != nil {
				logger.Warn("ledger reply failed", zap.String("subject", subject), zap.Error(err))
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func replyOf(balance int64, ok bool, err error) Reply {
	if err != nil {
		return Reply{Err: err.Error()}
	}
	return Reply{Balance: balance, OK: ok}
}
