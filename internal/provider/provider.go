// Package provider adapts external signal services into the voter contract.
// A provider failure means one fewer vote this tick, never a halted loop.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/cache"
	"fusion-trading-bot/internal/voter"
)

// Provider scores a symbol into a directional vote.
type Provider interface {
	Name() string
	Score(ctx context.Context, symbol string) (voter.Vote, error)
}

// scoreResponse is the wire shape. Either direction+confidence or the
// numeric score form must be present; score takes precedence when set.
type scoreResponse struct {
	Direction  string   `json:"direction"`
	Confidence float64  `json:"confidence"`
	Score      *float64 `json:"score"`
}

// HTTPProvider calls GET {base}/score?symbol= on a generic JSON scoring
// service. Calls are rate limited and breaker wrapped; fresh scores are
// cached in Redis for the configured TTL so most ticks never leave process.
type HTTPProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	cache      *cache.Cache
	cacheTTL   time.Duration
	logger     zerolog.Logger
}

// NewHTTPProvider builds a provider from config. scores may be nil when
// Redis is disabled.
func NewHTTPProvider(cfg config.ProviderConfig, scores *cache.Cache, logger zerolog.Logger) *HTTPProvider {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cacheTTL := time.Duration(cfg.CacheTTLSecs) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "provider-" + cfg.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &HTTPProvider{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		cache:      scores,
		cacheTTL:   cacheTTL,
		logger:     logger.With().Str("component", "provider").Str("provider", cfg.Name).Logger(),
	}
}

func (p *HTTPProvider) Name() string { return p.name }

// Score returns the provider's vote for symbol, served from cache when a
// fresh score exists.
func (p *HTTPProvider) Score(ctx context.Context, symbol string) (voter.Vote, error) {
	if p.cache != nil {
		var cached voter.Vote
		if err := p.cache.GetJSON(ctx, cache.ProviderScoreKey(p.name, symbol), &cached); err == nil {
			return cached, nil
		}
	}

	if !p.limiter.Allow() {
		return voter.Vote{}, fmt.Errorf("provider %s: rate limited", p.name)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, symbol)
	})
	if err != nil {
		return voter.Vote{}, fmt.Errorf("provider %s: %w", p.name, err)
	}

	vote := result.(voter.Vote)
	if p.cache != nil {
		if err := p.cache.SetJSON(ctx, cache.ProviderScoreKey(p.name, symbol), vote, p.cacheTTL); err != nil {
			p.logger.Debug().Err(err).Str("symbol", symbol).Msg("score cache write failed")
		}
	}
	return vote, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, symbol string) (voter.Vote, error) {
	endpoint := fmt.Sprintf("%s/score?symbol=%s", p.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return voter.Vote{}, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return voter.Vote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return voter.Vote{}, fmt.Errorf("score request returned %d", resp.StatusCode)
	}

	var body scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return voter.Vote{}, fmt.Errorf("decode score response: %w", err)
	}
	return p.toVote(body)
}

// toVote maps the wire shape into a Vote. The numeric form maps sign to
// direction and magnitude to confidence.
func (p *HTTPProvider) toVote(body scoreResponse) (voter.Vote, error) {
	vote := voter.Vote{Source: p.name, Reason: "external score"}

	if body.Score != nil {
		score := *body.Score
		if score > 1 {
			score = 1
		} else if score < -1 {
			score = -1
		}
		switch {
		case score > 0:
			vote.Direction = voter.DirectionBuy
		case score < 0:
			vote.Direction = voter.DirectionSell
		default:
			vote.Direction = voter.DirectionHold
		}
		vote.Confidence = score
		if vote.Confidence < 0 {
			vote.Confidence = -vote.Confidence
		}
		return vote, nil
	}

	switch strings.ToUpper(body.Direction) {
	case string(voter.DirectionBuy):
		vote.Direction = voter.DirectionBuy
	case string(voter.DirectionSell):
		vote.Direction = voter.DirectionSell
	case string(voter.DirectionHold):
		vote.Direction = voter.DirectionHold
	case "":
		return voter.Vote{}, fmt.Errorf("score response carries neither direction nor score")
	default:
		return voter.Vote{}, fmt.Errorf("unknown direction %q in score response", body.Direction)
	}

	conf := body.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}
	vote.Confidence = conf
	return vote, nil
}

// FromConfig assembles the enabled providers. Disabled entries are skipped;
// an empty result simply means fusion sees internal votes only.
func FromConfig(cfgs []config.ProviderConfig, scores *cache.Cache, logger zerolog.Logger) []Provider {
	var providers []Provider
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		providers = append(providers, NewHTTPProvider(cfg, scores, logger))
	}
	return providers
}
