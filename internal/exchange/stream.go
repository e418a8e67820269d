package exchange

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// BarHandler receives every closed candle delivered by the stream.
type BarHandler func(symbol string, bar PriceBar)

// KlineStream maintains a combined kline WebSocket subscription and pushes
// closed bars to the handler. Open (still-forming) candles are dropped so
// downstream indicators only ever see final values.
type KlineStream struct {
	mu sync.RWMutex

	baseURL   string
	symbols   []string
	interval  string
	handler   BarHandler
	wsConn    *websocket.Conn
	isRunning bool
	stopChan  chan struct{}

	reconnects int
	logger     zerolog.Logger
}

// NewKlineStream prepares a stream for the given symbols. Start must be
// called to connect.
func NewKlineStream(baseURL string, symbols []string, interval string, handler BarHandler, logger zerolog.Logger) *KlineStream {
	return &KlineStream{
		baseURL:  baseURL,
		symbols:  symbols,
		interval: interval,
		handler:  handler,
		stopChan: make(chan struct{}),
		logger:   logger.With().Str("component", "KlineStream").Logger(),
	}
}

// streamURL builds the combined-stream endpoint, e.g.
// wss://host/stream?streams=btcusdt@kline_1m/ethusdt@kline_1m
func (s *KlineStream) streamURL() string {
	streams := make([]string, len(s.symbols))
	for i, symbol := range s.symbols {
		streams[i] = strings.ToLower(symbol) + "@kline_" + s.interval
	}
	return s.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Start launches the connection loop in the background.
func (s *KlineStream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.connect()
}

// Stop closes the connection and halts reconnection.
func (s *KlineStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)

	if s.wsConn != nil {
		s.wsConn.Close()
	}
	s.logger.Info().Msg("kline stream stopped")
}

// IsRunning reports whether the connection loop is active.
func (s *KlineStream) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// connect dials and re-dials the stream until Stop is called. The retry
// delay doubles up to a 30s cap and resets after a successful connect.
func (s *KlineStream) connect() {
	wsURL := s.streamURL()
	delay := time.Second

	for {
		s.mu.RLock()
		if !s.isRunning {
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		s.logger.Info().Str("url", wsURL).Msg("connecting kline stream")

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("kline stream connect failed")
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()

			select {
			case <-s.stopChan:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			continue
		}

		s.mu.Lock()
		s.wsConn = conn
		delay = time.Second
		s.mu.Unlock()

		s.logger.Info().Int("symbols", len(s.symbols)).Msg("kline stream connected")

		s.readLoop(conn)

		s.mu.RLock()
		isRunning := s.isRunning
		s.mu.RUnlock()
		if !isRunning {
			return
		}

		s.logger.Warn().Msg("kline stream connection lost, reconnecting")
		select {
		case <-s.stopChan:
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (s *KlineStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("kline stream closed normally")
			} else {
				s.logger.Warn().Err(err).Msg("kline stream read error")
			}
			return
		}
		s.handleMessage(message)
	}
}

// combinedEvent wraps payloads on the combined-stream endpoint.
type combinedEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64   `json:"t"`
		CloseTime int64   `json:"T"`
		Interval  string  `json:"i"`
		Open      float64 `json:"o,string"`
		Close     float64 `json:"c,string"`
		High      float64 `json:"h,string"`
		Low       float64 `json:"l,string"`
		Volume    float64 `json:"v,string"`
		IsClosed  bool    `json:"x"`
	} `json:"k"`
}

func (s *KlineStream) handleMessage(message []byte) {
	var wrapper combinedEvent
	if err := json.Unmarshal(message, &wrapper); err != nil || wrapper.Data == nil {
		s.logger.Debug().Msg("dropping non-stream message")
		return
	}

	var event klineEvent
	if err := json.Unmarshal(wrapper.Data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse kline event")
		return
	}
	if event.EventType != "kline" || !event.Kline.IsClosed {
		return
	}

	bar := PriceBar{
		OpenTime:  event.Kline.OpenTime,
		Open:      event.Kline.Open,
		High:      event.Kline.High,
		Low:       event.Kline.Low,
		Close:     event.Kline.Close,
		Volume:    event.Kline.Volume,
		CloseTime: event.Kline.CloseTime,
	}
	if s.handler != nil {
		s.handler(event.Symbol, bar)
	}
}
