package ws

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/config"
	"github.com/papertrade/engine/internal/port"
)

// Feed paths served by the relay. "all" receives every channel.
const (
	FeedTrades       = "trades"
	FeedMarketData   = "marketdata"
	FeedOrderUpdates = "orderupdates"
	FeedErrors       = "errors"
	FeedAll          = "all"
)

// Relay subscribes to the engine's event channels and republishes each
// message onto its WebSocket feed.
type Relay struct {
	store port.Store
	cfg   config.Config
	hub   *Hub
	log   *zap.Logger
}

func NewRelay(store port.Store, cfg config.Config, hub *Hub, log *zap.Logger) *Relay {
	return &Relay{store: store, cfg: cfg, hub: hub, log: log}
}

// Mux returns the HTTP routes for the feed endpoints.
func (r *Relay) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/trades", r.hub.Handler(FeedTrades))
	mux.HandleFunc("/ws/marketdata", r.hub.Handler(FeedMarketData))
	mux.HandleFunc("/ws/orderupdates", r.hub.Handler(FeedOrderUpdates))
	mux.HandleFunc("/ws/errors", r.hub.Handler(FeedErrors))
	mux.HandleFunc("/ws/all", r.hub.Handler(FeedAll))
	return mux
}

// Run pumps subscribed messages into the hub until ctx is cancelled or
// the subscription ends.
func (r *Relay) Run(ctx context.Context) error {
	feeds := map[string]string{
		r.cfg.Channels.Trade:       FeedTrades,
		r.cfg.Channels.MarketData:  FeedMarketData,
		r.cfg.Channels.OrderUpdate: FeedOrderUpdates,
		r.cfg.Channels.Error:       FeedErrors,
	}
	channels := make([]string, 0, len(feeds))
	for ch := range feeds {
		channels = append(channels, ch)
	}
	sub, err := r.store.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer sub.Close()
	r.log.Info("relay subscribed", zap.Strings("channels", channels))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			feed, known := feeds[msg.Channel]
			if !known {
				continue
			}
			r.hub.Broadcast(feed, msg.Payload)
			r.hub.Broadcast(FeedAll, msg.Payload)
		}
	}
}
