package bybit

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/exchange"
	"github.com/venuelink/venuelink/internal/market"
	"github.com/venuelink/venuelink/internal/observability"
	"github.com/venuelink/venuelink/internal/rategate"
	"github.com/venuelink/venuelink/internal/rest"
	"github.com/venuelink/venuelink/internal/sign"
	"github.com/venuelink/venuelink/internal/ws"
)

const venueName = "bybit"

const categorySpot = "spot"

// Options configure a Bybit adapter. Zero-value URLs fall back to the
// production endpoints.
type Options struct {
	RESTBaseURL  string
	PublicWSURL  string
	PrivateWSURL string
	Credential   sign.Credential
	HTTPClient   *http.Client
	Gate         *rategate.Gate
	Metrics      *observability.Metrics
	Errors       chan<- error
	Dialer       ws.Dialer
}

const (
	defaultRESTBaseURL  = "https://api.bybit.com"
	defaultPublicWSURL  = "wss://stream.bybit.com/v5/public/spot"
	defaultPrivateWSURL = "wss://stream.bybit.com/v5/private"
)

// Adapter is the Bybit venue integration. One instance owns at most one
// public and one private websocket session plus a REST client, all sharing
// the venue rate gate.
type Adapter struct {
	signer  *sign.Signer
	rest    *rest.Client
	metrics *observability.Metrics
	errors  chan<- error
	dialer  ws.Dialer

	publicURL  string
	privateURL string

	ctx context.Context

	sinkMu sync.RWMutex
	sink   exchange.Sink

	sessMu  sync.Mutex
	public  *ws.Session
	private *ws.Session
}

// New builds a Bybit adapter. The context bounds the lifetime of every
// session the adapter opens.
func New(ctx context.Context, opts Options) *Adapter {
	if opts.RESTBaseURL == "" {
		opts.RESTBaseURL = defaultRESTBaseURL
	}
	if opts.PublicWSURL == "" {
		opts.PublicWSURL = defaultPublicWSURL
	}
	if opts.PrivateWSURL == "" {
		opts.PrivateWSURL = defaultPrivateWSURL
	}
	signer := sign.NewSigner(opts.Credential)
	gate := opts.Gate
	if gate == nil {
		gate = rategate.New()
	}
	return &Adapter{
		signer:  signer,
		metrics: opts.Metrics,
		errors:  opts.Errors,
		dialer:  opts.Dialer,
		rest: rest.NewClient(rest.Config{
			Venue:      venueName,
			BaseURL:    opts.RESTBaseURL,
			HTTPClient: opts.HTTPClient,
			Gate:       gate,
			Signer:     signer,
			Auth:       authHeaders(time.Now),
			ParseError: parseRESTError,
			Metrics:    opts.Metrics,
		}),
		publicURL:  opts.PublicWSURL,
		privateURL: opts.PrivateWSURL,
		ctx:        ctx,
	}
}

// ID returns the venue identity.
func (a *Adapter) ID() market.Venue { return market.VenueBybit }

// SetSink installs the consumer of normalized entities.
func (a *Adapter) SetSink(sink exchange.Sink) {
	a.sinkMu.Lock()
	a.sink = sink
	a.sinkMu.Unlock()
}

// SubscribeTicks starts streaming best-price updates for the symbol.
func (a *Adapter) SubscribeTicks(ctx context.Context, symbol string) error {
	session, err := a.publicSession()
	if err != nil {
		return err
	}
	return session.Subscribe([]string{topicFor(exchange.Ticker(symbol))})
}

// UnsubscribeTicks stops streaming best-price updates for the symbol.
func (a *Adapter) UnsubscribeTicks(ctx context.Context, symbol string) error {
	session, err := a.publicSession()
	if err != nil {
		return err
	}
	return session.Unsubscribe([]string{topicFor(exchange.Ticker(symbol))})
}

// SubscribeCandles starts streaming candles for the symbol and timeframe.
func (a *Adapter) SubscribeCandles(ctx context.Context, symbol string, tf market.Timeframe) error {
	if !tf.Valid() {
		return errs.New(venueName, errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(tf)))
	}
	session, err := a.publicSession()
	if err != nil {
		return err
	}
	return session.Subscribe([]string{topicFor(exchange.Candles(tf, symbol))})
}

// UnsubscribeCandles stops streaming candles for the symbol and timeframe.
func (a *Adapter) UnsubscribeCandles(ctx context.Context, symbol string, tf market.Timeframe) error {
	session, err := a.publicSession()
	if err != nil {
		return err
	}
	return session.Unsubscribe([]string{topicFor(exchange.Candles(tf, symbol))})
}

// ListenOrders starts streaming the account's order updates.
func (a *Adapter) ListenOrders(ctx context.Context) error {
	session, err := a.privateSession()
	if err != nil {
		return err
	}
	return session.Subscribe([]string{topicOrders})
}

// ListenPositions starts streaming the account's position updates.
func (a *Adapter) ListenPositions(ctx context.Context) error {
	session, err := a.privateSession()
	if err != nil {
		return err
	}
	return session.Subscribe([]string{topicPositions})
}

// PlaceOrder rounds price and quantity to the instrument's precision and
// submits the order, awaiting the venue acknowledgment.
func (a *Adapter) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.Order, error) {
	base := market.BaseCurrency(req.Instrument.Symbol)
	price := market.RoundPrice(base, req.Price)
	qty := market.RoundQty(base, req.Quantity)

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	body := orderCreateRequest{
		Category:    categorySpot,
		Symbol:      req.Instrument.Symbol,
		Side:        sideToVenue(req.Side),
		OrderType:   typeToVenue(req.Type),
		Qty:         formatFloat(qty),
		OrderLinkID: clientID,
	}
	if req.Type == market.OrderTypeLimit {
		body.Price = formatFloat(price)
	}

	envelope, err := rest.Execute[restEnvelope[orderCreateResult]](ctx, a.rest, descOrderCreate, nil, body)
	if err != nil {
		return market.Order{}, err
	}
	if !envelope.ok() {
		return market.Order{}, envelope.reject()
	}
	return market.Order{
		ID:            envelope.Result.OrderID,
		ClientOrderID: clientID,
		Instrument:    req.Instrument,
		Side:          req.Side,
		Type:          req.Type,
		Price:         price,
		Quantity:      qty,
		Status:        market.OrderStatusNew,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// CandlesHistory fetches one page of historical candles. Bybit returns rows
// newest-first; the page is reversed so callers always see ascending open
// time.
func (a *Adapter) CandlesHistory(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	interval, err := intervalFor(q.Timeframe)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("category", categorySpot)
	query.Set("symbol", q.Instrument.Symbol)
	query.Set("interval", interval)
	if !q.After.IsZero() {
		query.Set("start", strconv.FormatInt(q.After.UnixMilli(), 10))
	}
	if !q.Before.IsZero() {
		query.Set("end", strconv.FormatInt(q.Before.UnixMilli(), 10))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	envelope, err := rest.Execute[restEnvelope[klineResult]](ctx, a.rest, descKline, query, nil)
	if err != nil {
		return nil, err
	}
	if !envelope.ok() {
		return nil, envelope.reject()
	}

	candles := make([]market.Candle, 0, len(envelope.Result.List))
	for i := len(envelope.Result.List) - 1; i >= 0; i-- {
		candle, err := parseKlineTuple(envelope.Result.List[i], q.Instrument.Symbol, q.Timeframe)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetOrder returns the venue's current view of the order.
func (a *Adapter) GetOrder(ctx context.Context, id string) (market.Order, error) {
	query := url.Values{}
	query.Set("category", categorySpot)
	query.Set("orderId", id)

	envelope, err := rest.Execute[restEnvelope[orderRealtimeResult]](ctx, a.rest, descOrderRealtime, query, nil)
	if err != nil {
		return market.Order{}, err
	}
	if !envelope.ok() {
		return market.Order{}, envelope.reject()
	}
	if len(envelope.Result.List) == 0 {
		return market.Order{}, errs.New(venueName, errs.CodeNotFound,
			errs.WithMessage("order not found"),
			errs.WithField("order_id", id))
	}
	return normalizeOrder(envelope.Result.List[0])
}

func (a *Adapter) publicSession() (*ws.Session, error) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if a.public != nil {
		return a.public, nil
	}
	session := ws.NewSession(a.ctx, ws.Options{
		Venue:    venueName,
		URL:      a.publicURL,
		Protocol: newPublicProtocol(),
		Handler:  a.handleData,
		Errors:   a.errors,
		Dialer:   a.dialer,
		Metrics:  a.metrics,
	})
	if err := session.Start(); err != nil {
		return nil, err
	}
	a.public = session
	return session, nil
}

func (a *Adapter) privateSession() (*ws.Session, error) {
	if a.signer.Credential().Empty() {
		return nil, errs.New(venueName, errs.CodeAuth,
			errs.WithMessage("private stream requires a credential"))
	}
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if a.private != nil {
		return a.private, nil
	}
	session := ws.NewSession(a.ctx, ws.Options{
		Venue:    venueName,
		URL:      a.privateURL,
		Protocol: newPrivateProtocol(a.signer),
		Handler:  a.handleData,
		Errors:   a.errors,
		Dialer:   a.dialer,
		Metrics:  a.metrics,
	})
	if err := session.Start(); err != nil {
		return nil, err
	}
	a.private = session
	return session, nil
}

// Close stops any open sessions. REST calls remain usable.
func (a *Adapter) Close() {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if a.public != nil {
		a.public.Stop()
	}
	if a.private != nil {
		a.private.Stop()
	}
}

// handleData routes classified data frames to the matching normalizer. Event
// frames such as subscribe acks carry no payload and are ignored here.
func (a *Adapter) handleData(msg ws.Message) error {
	if msg.Kind != ws.KindData {
		return nil
	}
	segments := splitTopic(msg.Topic)
	switch segments[0] {
	case "tickers":
		return a.consumeTicker(msg)
	case "kline":
		if len(segments) != 3 {
			return unexpectedTopic(msg.Topic)
		}
		return a.consumeKline(msg, market.Timeframe(segments[1]), segments[2])
	case topicOrders:
		return a.consumeOrders(msg)
	case topicPositions:
		return a.consumePositions(msg)
	default:
		return unexpectedTopic(msg.Topic)
	}
}

type tickerPayload struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	Volume24h string `json:"volume24h"`
}

func (a *Adapter) consumeTicker(msg ws.Message) error {
	var payload tickerPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payloadError("ticker", err)
	}
	last, err := market.ParseFloat(market.VenueBybit, "lastPrice", payload.LastPrice)
	if err != nil {
		return err
	}
	bid, err := market.ParseFloat(market.VenueBybit, "bid1Price", payload.Bid1Price)
	if err != nil {
		return err
	}
	ask, err := market.ParseFloat(market.VenueBybit, "ask1Price", payload.Ask1Price)
	if err != nil {
		return err
	}
	volume, err := market.ParseFloat(market.VenueBybit, "volume24h", payload.Volume24h)
	if err != nil {
		return err
	}
	a.emit(func(sink exchange.Sink) {
		sink.OnTick(market.Tick{
			Instrument: market.Instrument{Symbol: payload.Symbol, Venue: market.VenueBybit},
			Last:       last,
			Bid:        bid,
			Ask:        ask,
			Volume24h:  volume,
			Timestamp:  msg.Ts,
		})
	})
	return nil
}

type klinePayload struct {
	Start   int64  `json:"start"`
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Volume  string `json:"volume"`
	Confirm bool   `json:"confirm"`
}

func (a *Adapter) consumeKline(msg ws.Message, tf market.Timeframe, symbol string) error {
	var rows []klinePayload
	if err := json.Unmarshal(msg.Payload, &rows); err != nil {
		return payloadError("kline", err)
	}
	for _, row := range rows {
		open, err := market.ParseFloat(market.VenueBybit, "open", row.Open)
		if err != nil {
			return err
		}
		high, err := market.ParseFloat(market.VenueBybit, "high", row.High)
		if err != nil {
			return err
		}
		low, err := market.ParseFloat(market.VenueBybit, "low", row.Low)
		if err != nil {
			return err
		}
		closePrice, err := market.ParseFloat(market.VenueBybit, "close", row.Close)
		if err != nil {
			return err
		}
		volume, err := market.ParseFloat(market.VenueBybit, "volume", row.Volume)
		if err != nil {
			return err
		}
		candle := market.Candle{
			Instrument: market.Instrument{Symbol: symbol, Venue: market.VenueBybit},
			Timeframe:  tf,
			Open:       open,
			High:       high,
			Low:        low,
			Close:      closePrice,
			Volume:     volume,
			OpenTime:   time.UnixMilli(row.Start).UTC(),
			Confirmed:  row.Confirm,
		}
		a.emit(func(sink exchange.Sink) { sink.OnCandle(candle) })
	}
	return nil
}

func (a *Adapter) consumeOrders(msg ws.Message) error {
	var rows []orderRecord
	if err := json.Unmarshal(msg.Payload, &rows); err != nil {
		return payloadError("order", err)
	}
	for _, row := range rows {
		order, err := normalizeOrder(row)
		if err != nil {
			return err
		}
		a.emit(func(sink exchange.Sink) { sink.OnOrder(order) })
	}
	return nil
}

type positionPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entryPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	UpdatedTime   string `json:"updatedTime"`
}

func (a *Adapter) consumePositions(msg ws.Message) error {
	var rows []positionPayload
	if err := json.Unmarshal(msg.Payload, &rows); err != nil {
		return payloadError("position", err)
	}
	for _, row := range rows {
		qty, err := market.ParseFloat(market.VenueBybit, "size", row.Size)
		if err != nil {
			return err
		}
		entry, err := market.ParseFloat(market.VenueBybit, "entryPrice", row.EntryPrice)
		if err != nil {
			return err
		}
		pnl, err := market.ParseFloat(market.VenueBybit, "unrealisedPnl", row.UnrealisedPnl)
		if err != nil {
			return err
		}
		updated, err := market.ParseMilli(market.VenueBybit, "updatedTime", row.UpdatedTime)
		if err != nil {
			return err
		}
		position := market.Position{
			Instrument:    market.Instrument{Symbol: row.Symbol, Venue: market.VenueBybit},
			Side:          sideFromVenue(row.Side),
			Quantity:      qty,
			EntryPrice:    entry,
			UnrealizedPnL: pnl,
			UpdatedAt:     updated,
		}
		a.emit(func(sink exchange.Sink) { sink.OnPosition(position) })
	}
	return nil
}

func (a *Adapter) emit(deliver func(exchange.Sink)) {
	a.sinkMu.RLock()
	sink := a.sink
	a.sinkMu.RUnlock()
	if sink != nil {
		deliver(sink)
	}
}

func normalizeOrder(row orderRecord) (market.Order, error) {
	price, err := market.ParseFloat(market.VenueBybit, "price", row.Price)
	if err != nil {
		return market.Order{}, err
	}
	qty, err := market.ParseFloat(market.VenueBybit, "qty", row.Qty)
	if err != nil {
		return market.Order{}, err
	}
	filled, err := market.ParseFloat(market.VenueBybit, "cumExecQty", row.CumExecQty)
	if err != nil {
		return market.Order{}, err
	}
	updated, err := market.ParseMilli(market.VenueBybit, "updatedTime", row.UpdatedTime)
	if err != nil {
		return market.Order{}, err
	}
	return market.Order{
		ID:            row.OrderID,
		ClientOrderID: row.OrderLinkID,
		Instrument:    market.Instrument{Symbol: row.Symbol, Venue: market.VenueBybit},
		Side:          sideFromVenue(row.Side),
		Type:          typeFromVenue(row.OrderType),
		Price:         price,
		Quantity:      qty,
		Filled:        filled,
		Status:        statusFromVenue(row.OrderStatus),
		UpdatedAt:     updated,
	}, nil
}

func sideToVenue(side market.Side) string {
	if side == market.SideSell {
		return "Sell"
	}
	return "Buy"
}

func sideFromVenue(side string) market.Side {
	if side == "Sell" {
		return market.SideSell
	}
	return market.SideBuy
}

func typeToVenue(t market.OrderType) string {
	if t == market.OrderTypeMarket {
		return "Market"
	}
	return "Limit"
}

func typeFromVenue(t string) market.OrderType {
	if t == "Market" {
		return market.OrderTypeMarket
	}
	return market.OrderTypeLimit
}

func statusFromVenue(status string) market.OrderStatus {
	switch status {
	case "New", "Untriggered", "Triggered":
		return market.OrderStatusNew
	case "PartiallyFilled":
		return market.OrderStatusPartiallyFilled
	case "Filled":
		return market.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return market.OrderStatusCancelled
	case "Rejected":
		return market.OrderStatusRejected
	default:
		return market.OrderStatusNew
	}
}

func intervalFor(tf market.Timeframe) (string, error) {
	switch tf {
	case market.Timeframe1m:
		return "1", nil
	case market.Timeframe5m:
		return "5", nil
	case market.Timeframe15m:
		return "15", nil
	case market.Timeframe1h:
		return "60", nil
	case market.Timeframe4h:
		return "240", nil
	case market.Timeframe1d:
		return "D", nil
	default:
		return "", errs.New(venueName, errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(tf)))
	}
}

func parseKlineTuple(row []string, symbol string, tf market.Timeframe) (market.Candle, error) {
	if len(row) < 6 {
		return market.Candle{}, errs.New(venueName, errs.CodeProtocol,
			errs.WithMessage("short kline tuple"),
			errs.WithField("len", strconv.Itoa(len(row))))
	}
	openTime, err := market.ParseMilli(market.VenueBybit, "startTime", row[0])
	if err != nil {
		return market.Candle{}, err
	}
	open, err := market.ParseFloat(market.VenueBybit, "open", row[1])
	if err != nil {
		return market.Candle{}, err
	}
	high, err := market.ParseFloat(market.VenueBybit, "high", row[2])
	if err != nil {
		return market.Candle{}, err
	}
	low, err := market.ParseFloat(market.VenueBybit, "low", row[3])
	if err != nil {
		return market.Candle{}, err
	}
	closePrice, err := market.ParseFloat(market.VenueBybit, "close", row[4])
	if err != nil {
		return market.Candle{}, err
	}
	volume, err := market.ParseFloat(market.VenueBybit, "volume", row[5])
	if err != nil {
		return market.Candle{}, err
	}
	return market.Candle{
		Instrument: market.Instrument{Symbol: symbol, Venue: market.VenueBybit},
		Timeframe:  tf,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     volume,
		OpenTime:   openTime,
		Confirmed:  true,
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func payloadError(kind string, err error) error {
	return errs.New(venueName, errs.CodeProtocol,
		errs.WithMessage("malformed "+kind+" payload"),
		errs.WithCause(err))
}

func unexpectedTopic(topic string) error {
	return errs.New(venueName, errs.CodeProtocol,
		errs.WithMessage("unexpected topic"),
		errs.WithField("topic", topic))
}
