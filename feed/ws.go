package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"algo-exec-go/market"
)

// WSMessage websocket 行情消息（JSON）。
type WSMessage struct {
	Instrument string  `json:"instrument"`
	Ts         string  `json:"ts"` // RFC3339 或 unix 毫秒
	Bid        float64 `json:"bid"`
	BidSize    float64 `json:"bid_size"`
	Ask        float64 `json:"ask"`
	AskSize    float64 `json:"ask_size"`
	Last       float64 `json:"last"`
	LastSize   float64 `json:"last_size"`
	Side       string  `json:"side,omitempty"`
}

// Tick converts the message into a market.Tick.
func (m WSMessage) Tick() (market.Tick, error) {
	ts, err := ParseTime(m.Ts)
	if err != nil {
		return market.Tick{}, err
	}
	dir, err := ParseDirection(m.Side)
	if err != nil {
		return market.Tick{}, err
	}
	tk := market.Tick{
		Instrument: m.Instrument,
		Ts:         ts,
		BidPrice:   m.Bid,
		BidSize:    m.BidSize,
		AskPrice:   m.Ask,
		AskSize:    m.AskSize,
		LastPrice:  m.Last,
		LastSize:   m.LastSize,
		Direction:  dir,
	}
	if tk.Instrument == "" || tk.Price() <= 0 {
		return market.Tick{}, fmt.Errorf("%w: %+v", ErrBadRecord, m)
	}
	return tk, nil
}

// WSFeed 订阅 websocket JSON 行情，断线后按退避重连。
type WSFeed struct {
	URL         string
	Header      http.Header
	Dialer      *websocket.Dialer
	ReadTimeout time.Duration // 默认 30s
	MaxBackoff  time.Duration // 默认 30s；<0 表示不重连
	Logger      *zap.Logger
}

func (f *WSFeed) Run(ctx context.Context, out chan<- market.Tick) error {
	if f.Dialer == nil {
		f.Dialer = websocket.DefaultDialer
	}
	if f.ReadTimeout <= 0 {
		f.ReadTimeout = 30 * time.Second
	}
	if f.MaxBackoff == 0 {
		f.MaxBackoff = 30 * time.Second
	}
	if f.Logger == nil {
		f.Logger = zap.NewNop()
	}

	backoff := 100 * time.Millisecond
	if backoff > f.MaxBackoff && f.MaxBackoff > 0 {
		backoff = f.MaxBackoff
	}
	for {
		err := f.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.MaxBackoff < 0 {
			return err
		}
		f.Logger.Warn("ws feed disconnected, reconnecting",
			zap.String("url", f.URL),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.MaxBackoff {
			backoff = f.MaxBackoff
		}
	}
}

// session 一次连接的读取循环。
func (f *WSFeed) session(ctx context.Context, out chan<- market.Tick) error {
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, f.Header)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.Logger.Info("ws feed connected", zap.String("url", f.URL))

	// ctx 结束时关闭连接以打断阻塞的 ReadMessage
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("ws feed closed by server")
			}
			return err
		}
		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			f.Logger.Warn("ws message not decodable", zap.ByteString("raw", message), zap.Error(err))
			continue
		}
		tk, err := msg.Tick()
		if err != nil {
			f.Logger.Warn("ws message rejected", zap.Error(err))
			continue
		}
		if err := send(ctx, out, tk); err != nil {
			return err
		}
	}
}
