package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultWebsocketURL = "wss://api.openai.com/v1/realtime"
	closeWriteTimeout   = 2 * time.Second
)

var ErrChannelClosed = errors.New("realtime channel closed")

var _ Dialer = (*WebsocketDialer)(nil)

// WebsocketDialer opens the realtime event channel over a websocket authenticated with the
// minted credential.
type WebsocketDialer struct {
	URL            string
	ConnectTimeout time.Duration
	Dialer         *websocket.Dialer
}

func NewWebsocketDialer(rawURL string) *WebsocketDialer {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultWebsocketURL
	}
	return &WebsocketDialer{
		URL:            strings.TrimSpace(rawURL),
		ConnectTimeout: 15 * time.Second,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, cred Credential) (Channel, error) {
	if strings.TrimSpace(cred.Token) == "" {
		return nil, errors.New("realtime credential token is empty")
	}

	endpoint, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	if model := strings.TrimSpace(cred.Model); model != "" {
		q := endpoint.Query()
		q.Set("model", model)
		endpoint.RawQuery = q.Encode()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cred.Token)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	if d.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, endpoint.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime websocket: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	return &websocketChannel{conn: conn}, nil
}

type websocketChannel struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *websocketChannel) Send(event any) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(event)
}

// Receive returns the next text frame. Binary frames are skipped.
func (c *websocketChannel) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrChannelClosed
			}
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *websocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
