package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// reconnectDelay is the pause between websocket reconnect attempts.
const reconnectDelay = 3 * time.Second

// miniTickerEvent is the payload of a Binance miniTicker stream message.
type miniTickerEvent struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// combinedStreamMessage wraps events from the combined stream endpoint.
type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Stream maintains a combined miniTicker websocket subscription and
// feeds the price cache. It reconnects with a fixed delay until stopped
// and reports connectivity changes through the status callback.
type Stream struct {
	wsBaseURL string
	symbols   []string
	cache     *PriceCache
	onStatus  func(connected bool)
	logger    zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	running    bool
	reconnects int
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewStream creates a price stream for the given symbols. The status
// callback may be nil.
func NewStream(wsBaseURL string, symbols []string, cache *PriceCache, onStatus func(bool), logger zerolog.Logger) *Stream {
	return &Stream{
		wsBaseURL: wsBaseURL,
		symbols:   symbols,
		cache:     cache,
		onStatus:  onStatus,
		logger:    logger.With().Str("component", "stream").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// streamURL builds the combined stream endpoint for all symbols.
func (s *Stream) streamURL() string {
	streams := make([]string, len(s.symbols))
	for i, symbol := range s.symbols {
		streams[i] = strings.ToLower(symbol) + "@miniTicker"
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.wsBaseURL, strings.Join(streams, "/"))
}

// Start launches the connect loop in its own goroutine.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.connectLoop()
}

// Stop closes the connection and waits for the loop to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("price stream stopped")
}

func (s *Stream) connectLoop() {
	defer s.wg.Done()

	url := s.streamURL()
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			s.logger.Warn().Err(err).Msg("websocket dial failed, retrying")
			s.setStatus(false)
			if !s.sleepOrStop(reconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.logger.Info().Int("symbols", len(s.symbols)).Msg("price stream connected")
		s.setStatus(true)

		s.readLoop(conn)

		s.setStatus(false)
		select {
		case <-s.stopChan:
			return
		default:
		}
		s.logger.Warn().Msg("price stream lost, reconnecting")
		if !s.sleepOrStop(reconnectDelay) {
			return
		}
	}
}

// readLoop consumes messages until the connection breaks.
func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(message)
	}
}

func (s *Stream) handleMessage(message []byte) {
	var wrapper combinedStreamMessage
	if err := json.Unmarshal(message, &wrapper); err != nil {
		s.logger.Debug().Err(err).Msg("unparseable stream message")
		return
	}

	var event miniTickerEvent
	if err := json.Unmarshal(wrapper.Data, &event); err != nil || event.Symbol == "" {
		return
	}

	price, err := strconv.ParseFloat(event.Close, 64)
	if err != nil || price <= 0 {
		return
	}
	s.cache.Set(event.Symbol, price)
}

func (s *Stream) setStatus(connected bool) {
	if s.onStatus != nil {
		s.onStatus(connected)
	}
}

// sleepOrStop waits for the delay, returning false when stopped.
func (s *Stream) sleepOrStop(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopChan:
		return false
	}
}

// Stats returns stream counters for the status API.
func (s *Stream) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"running":        s.running,
		"reconnects":     s.reconnects,
		"symbols":        len(s.symbols),
		"cached_symbols": s.cache.Len(),
	}
}
