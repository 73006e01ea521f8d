// Command gateway launches the venuelink connectivity runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/venuelink/venuelink/config"
	"github.com/venuelink/venuelink/internal/exchange"
	"github.com/venuelink/venuelink/internal/hub"
	"github.com/venuelink/venuelink/internal/market"
	"github.com/venuelink/venuelink/internal/observability"
	"github.com/venuelink/venuelink/internal/risk"
	"github.com/venuelink/venuelink/internal/sign"
	"github.com/venuelink/venuelink/internal/venues/bybit"
	"github.com/venuelink/venuelink/internal/venues/okx"
	"github.com/venuelink/venuelink/lib/telemetry"
)

const (
	defaultConfigPath        = "config/venuelink.yaml"
	errorChannelCapacity     = 128
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	boot := log.New(os.Stdout, "gateway ", log.LstdFlags|log.Lmicroseconds)

	// Populate the process environment before any credential is read.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		boot.Printf("skipping .env: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		boot.Fatalf("load config: %v", err)
	}
	boot.Printf("configuration initialised: env=%s, venues=%d", cfg.Environment, len(cfg.Venues))

	logger := buildLogger(cfg.Log)
	observability.SetLogger(logger)

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		boot.Fatalf("initialize telemetry: %v", err)
	}
	metrics := observability.NewMetrics()

	errs := make(chan error, errorChannelCapacity)
	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { drainErrors(ctx, errs, logger) })

	registry := exchange.NewRegistry()
	adapters := buildAdapters(ctx, cfg, metrics, errs)
	for _, adapter := range adapters {
		registry.Register(adapter.api)
	}

	platform := hub.New(registry, buildRiskManager(cfg.Risk))
	platform.AddConsumer(newDebugSink(logger))

	for _, stream := range cfg.Streams {
		channel, err := channelFor(stream)
		if err != nil {
			logger.Error("invalid stream config", observability.F("error", err.Error()))
			continue
		}
		if err := platform.Subscribe(ctx, market.Venue(stream.Venue), channel); err != nil {
			logger.Error("stream subscription failed",
				observability.F("venue", string(stream.Venue)),
				observability.F("channel", stream.Channel),
				observability.F("error", err.Error()))
		}
	}

	logger.Info("gateway started", observability.F("venues", len(registry.Venues())))
	<-ctx.Done()
	logger.Info("shutdown signal received")

	for _, adapter := range adapters {
		adapter.close()
	}
	cancel()
	lifecycle.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer shutdownCancel()
	if err := telemetryShutdown(shutdownCtx); err != nil {
		boot.Printf("telemetry shutdown: %v", err)
	}
	logger.Info("shutdown complete")
}

func parseFlags() string {
	cfgPath := flag.String("config", defaultConfigPath,
		fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func buildLogger(cfg config.LogSettings) observability.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}
	return observability.NewLogrusLogger(out, cfg.Level)
}

type venueAdapter struct {
	api   exchange.API
	close func()
}

func buildAdapters(ctx context.Context, cfg config.Settings, metrics *observability.Metrics, errs chan<- error) []venueAdapter {
	adapters := make([]venueAdapter, 0, len(cfg.Venues))

	if settings, ok := cfg.Venues[config.VenueBybit]; ok {
		adapter := bybit.New(ctx, bybit.Options{
			RESTBaseURL:  settings.RESTBaseURL,
			PublicWSURL:  settings.Websocket.PublicURL,
			PrivateWSURL: settings.Websocket.PrivateURL,
			Credential:   credentialFor(settings),
			Metrics:      metrics,
			Errors:       errs,
		})
		adapters = append(adapters, venueAdapter{api: adapter, close: adapter.Close})
	}
	if settings, ok := cfg.Venues[config.VenueOKX]; ok {
		adapter := okx.New(ctx, okx.Options{
			RESTBaseURL:  settings.RESTBaseURL,
			PublicWSURL:  settings.Websocket.PublicURL,
			PrivateWSURL: settings.Websocket.PrivateURL,
			Credential:   credentialFor(settings),
			Metrics:      metrics,
			Errors:       errs,
		})
		adapters = append(adapters, venueAdapter{api: adapter, close: adapter.Close})
	}

	return adapters
}

func credentialFor(settings config.VenueSettings) sign.Credential {
	return sign.NewCredential(
		settings.Credentials.APIKey,
		settings.Credentials.APISecret,
		settings.Credentials.Passphrase,
	)
}

func buildRiskManager(cfg config.RiskSettings) *risk.Manager {
	limits := risk.Limits{OrderThrottle: cfg.OrderThrottle}
	if qty, err := decimal.NewFromString(cfg.MaxOrderQty); err == nil {
		limits.MaxOrderQty = qty
	}
	if notional, err := decimal.NewFromString(cfg.MaxNotional); err == nil {
		limits.MaxNotional = notional
	}
	if limits.OrderThrottle <= 0 {
		limits.OrderThrottle = 1
	}
	return risk.NewManager(limits)
}

func channelFor(stream config.StreamSettings) (exchange.Channel, error) {
	switch stream.Channel {
	case "ticker":
		return exchange.Ticker(stream.Symbol), nil
	case "candles":
		tf := market.Timeframe(stream.Timeframe)
		if !tf.Valid() {
			return exchange.Channel{}, fmt.Errorf("unknown timeframe %q", stream.Timeframe)
		}
		return exchange.Candles(tf, stream.Symbol), nil
	case "orders":
		return exchange.Orders(), nil
	case "positions":
		return exchange.Positions(), nil
	default:
		return exchange.Channel{}, fmt.Errorf("unknown channel %q", stream.Channel)
	}
}

func drainErrors(ctx context.Context, errs <-chan error, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			if err != nil {
				logger.Error("venue stream error", observability.F("error", err.Error()))
			}
		}
	}
}

// debugSink traces normalized entities at debug level so operators can
// confirm data flow without attaching a consumer.
type debugSink struct {
	logger observability.Logger
}

func newDebugSink(logger observability.Logger) *debugSink {
	return &debugSink{logger: logger}
}

func (s *debugSink) OnTick(tick market.Tick) {
	s.logger.Debug("tick",
		observability.F("venue", string(tick.Instrument.Venue)),
		observability.F("symbol", tick.Instrument.Symbol),
		observability.F("last", tick.Last))
}

func (s *debugSink) OnCandle(candle market.Candle) {
	s.logger.Debug("candle",
		observability.F("venue", string(candle.Instrument.Venue)),
		observability.F("symbol", candle.Instrument.Symbol),
		observability.F("timeframe", string(candle.Timeframe)),
		observability.F("close", candle.Close))
}

func (s *debugSink) OnOrder(order market.Order) {
	s.logger.Info("order update",
		observability.F("venue", string(order.Instrument.Venue)),
		observability.F("id", order.ID),
		observability.F("status", string(order.Status)))
}

func (s *debugSink) OnPosition(position market.Position) {
	s.logger.Info("position update",
		observability.F("venue", string(position.Instrument.Venue)),
		observability.F("symbol", position.Instrument.Symbol),
		observability.F("quantity", position.Quantity))
}
