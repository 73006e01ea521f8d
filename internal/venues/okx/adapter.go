package okx

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
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

const venueName = "okx"

const tradeModeCash = "cash"

// Options configure an OKX adapter. Zero-value URLs fall back to the
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
	defaultRESTBaseURL  = "https://www.okx.com"
	defaultPublicWSURL  = "wss://ws.okx.com:8443/ws/v5/public"
	defaultPrivateWSURL = "wss://ws.okx.com:8443/ws/v5/private"
)

// Adapter is the OKX venue integration.
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

// New builds an OKX adapter. The context bounds the lifetime of every session
// the adapter opens.
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
func (a *Adapter) ID() market.Venue { return market.VenueOKX }

// SetSink installs the consumer of normalized entities.
func (a *Adapter) SetSink(sink exchange.Sink) {
	a.sinkMu.Lock()
	a.sink = sink
	a.sinkMu.Unlock()
}

// SubscribeTicks starts streaming best-price updates for the instrument.
func (a *Adapter) SubscribeTicks(ctx context.Context, symbol string) error {
	topic, err := topicFor(exchange.Ticker(symbol))
	if err != nil {
		return err
	}
	session, err := a.publicSession()
	if err != nil {
		return err
	}
	return session.Subscribe([]string{topic})
}

// UnsubscribeTicks stops streaming best-price updates for the instrument.
func (a *Adapter) UnsubscribeTicks(ctx context.Context, symbol string) error {
	topic, err := topicFor(exchange.Ticker(symbol))
	if err != nil {
		return err
	}
	session, err := a.publicSession()
	if err != nil {
		return err
	}
	return session.Unsubscribe([]string{topic})
}

// SubscribeCandles starts streaming candles for the instrument and timeframe.
func (a *Adapter) SubscribeCandles(ctx context.Context, symbol string, tf market.Timeframe) error {
	topic, err := topicFor(exchange.Candles(tf, symbol))
	if err != nil {
		return err
	}
	session, err := a.publicSession()
	if err != nil {
		return err
	}
	return session.Subscribe([]string{topic})
}

// UnsubscribeCandles stops streaming candles for the instrument and timeframe.
func (a *Adapter) UnsubscribeCandles(ctx context.Context, symbol string, tf market.Timeframe) error {
	topic, err := topicFor(exchange.Candles(tf, symbol))
	if err != nil {
		return err
	}
	session, err := a.publicSession()
	if err != nil {
		return err
	}
	return session.Unsubscribe([]string{topic})
}

// ListenOrders starts streaming the account's order updates.
func (a *Adapter) ListenOrders(ctx context.Context) error {
	session, err := a.privateSession()
	if err != nil {
		return err
	}
	return session.Subscribe([]string{channelOrders})
}

// ListenPositions starts streaming the account's position updates.
func (a *Adapter) ListenPositions(ctx context.Context) error {
	session, err := a.privateSession()
	if err != nil {
		return err
	}
	return session.Subscribe([]string{channelPositions})
}

// PlaceOrder rounds price and quantity to the instrument's precision and
// submits the order. The venue acknowledges each order individually through a
// per-row sCode even on HTTP 200, so both layers are checked.
func (a *Adapter) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.Order, error) {
	base := market.BaseCurrency(req.Instrument.Symbol)
	price := market.RoundPrice(base, req.Price)
	qty := market.RoundQty(base, req.Quantity)

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = clientOrderID()
	}
	body := orderPlaceRequest{
		InstID:  req.Instrument.Symbol,
		TdMode:  tradeModeCash,
		Side:    string(req.Side),
		OrdType: string(req.Type),
		Sz:      formatFloat(qty),
		ClOrdID: clientID,
	}
	if req.Type == market.OrderTypeLimit {
		body.Px = formatFloat(price)
	}

	envelope, err := rest.Execute[restEnvelope[orderAck]](ctx, a.rest, descOrderPlace, nil, body)
	if err != nil {
		return market.Order{}, err
	}
	if !envelope.ok() {
		return market.Order{}, envelope.reject()
	}
	if len(envelope.Data) == 0 {
		return market.Order{}, errs.New(venueName, errs.CodeProtocol,
			errs.WithMessage("order ack missing from response"))
	}
	ack := envelope.Data[0]
	if ack.SCode != "" && ack.SCode != "0" {
		return market.Order{}, errs.New(venueName, errs.CodeVenue,
			errs.WithRawCode(ack.SCode),
			errs.WithRawMessage(ack.SMsg))
	}
	return market.Order{
		ID:            ack.OrdID,
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

// CandlesHistory fetches one page of historical candles. OKX's cursor naming
// is inverted relative to the query: the venue's "after" cursor returns rows
// older than the given timestamp and "before" returns newer rows. Rows arrive
// newest-first and are reversed to ascending open time.
func (a *Adapter) CandlesHistory(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	bar, err := barFor(q.Timeframe)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("instId", q.Instrument.Symbol)
	query.Set("bar", bar)
	if !q.Before.IsZero() {
		query.Set("after", strconv.FormatInt(q.Before.UnixMilli(), 10))
	}
	if !q.After.IsZero() {
		query.Set("before", strconv.FormatInt(q.After.UnixMilli(), 10))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	envelope, err := rest.Execute[restEnvelope[candleRow]](ctx, a.rest, descCandles, query, nil)
	if err != nil {
		return nil, err
	}
	if !envelope.ok() {
		return nil, envelope.reject()
	}

	candles := make([]market.Candle, 0, len(envelope.Data))
	for i := len(envelope.Data) - 1; i >= 0; i-- {
		candle, err := parseCandleRow(envelope.Data[i], q.Instrument.Symbol, q.Timeframe)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetOrder returns the venue's current view of the order. OKX keys order
// lookups by order id; the instrument scope the venue also accepts is left to
// the venue's own resolution.
func (a *Adapter) GetOrder(ctx context.Context, id string) (market.Order, error) {
	query := url.Values{}
	query.Set("ordId", id)

	envelope, err := rest.Execute[restEnvelope[orderDetail]](ctx, a.rest, descOrderGet, query, nil)
	if err != nil {
		return market.Order{}, err
	}
	if !envelope.ok() {
		return market.Order{}, envelope.reject()
	}
	if len(envelope.Data) == 0 {
		return market.Order{}, errs.New(venueName, errs.CodeNotFound,
			errs.WithMessage("order not found"),
			errs.WithField("order_id", id))
	}
	return normalizeOrder(envelope.Data[0])
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

func (a *Adapter) handleData(msg ws.Message) error {
	if msg.Kind != ws.KindData {
		return nil
	}
	channel, instID, _ := strings.Cut(msg.Topic, ":")
	switch {
	case channel == channelTickers:
		return a.consumeTickers(msg)
	case strings.HasPrefix(channel, "candle"):
		return a.consumeCandles(msg, timeframeForBar(strings.TrimPrefix(channel, "candle")), instID)
	case channel == channelOrders:
		return a.consumeOrders(msg)
	case channel == channelPositions:
		return a.consumePositions(msg)
	default:
		return errs.New(venueName, errs.CodeProtocol,
			errs.WithMessage("unexpected channel"),
			errs.WithField("topic", msg.Topic))
	}
}

type tickerRow struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Vol24h string `json:"vol24h"`
	Ts     string `json:"ts"`
}

func (a *Adapter) consumeTickers(msg ws.Message) error {
	var rows []tickerRow
	if err := json.Unmarshal(msg.Payload, &rows); err != nil {
		return payloadError("ticker", err)
	}
	for _, row := range rows {
		last, err := market.ParseFloat(market.VenueOKX, "last", row.Last)
		if err != nil {
			return err
		}
		bid, err := market.ParseFloat(market.VenueOKX, "bidPx", row.BidPx)
		if err != nil {
			return err
		}
		ask, err := market.ParseFloat(market.VenueOKX, "askPx", row.AskPx)
		if err != nil {
			return err
		}
		volume, err := market.ParseFloat(market.VenueOKX, "vol24h", row.Vol24h)
		if err != nil {
			return err
		}
		timestamp, err := market.ParseMilli(market.VenueOKX, "ts", row.Ts)
		if err != nil {
			return err
		}
		tick := market.Tick{
			Instrument: market.Instrument{Symbol: row.InstID, Venue: market.VenueOKX},
			Last:       last,
			Bid:        bid,
			Ask:        ask,
			Volume24h:  volume,
			Timestamp:  timestamp,
		}
		a.emit(func(sink exchange.Sink) { sink.OnTick(tick) })
	}
	return nil
}

func (a *Adapter) consumeCandles(msg ws.Message, tf market.Timeframe, instID string) error {
	var rows []candleRow
	if err := json.Unmarshal(msg.Payload, &rows); err != nil {
		return payloadError("candle", err)
	}
	for _, row := range rows {
		candle, err := parseCandleRow(row, instID, tf)
		if err != nil {
			return err
		}
		a.emit(func(sink exchange.Sink) { sink.OnCandle(candle) })
	}
	return nil
}

func (a *Adapter) consumeOrders(msg ws.Message) error {
	var rows []orderDetail
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

type positionRow struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	Upl     string `json:"upl"`
	UTime   string `json:"uTime"`
}

func (a *Adapter) consumePositions(msg ws.Message) error {
	var rows []positionRow
	if err := json.Unmarshal(msg.Payload, &rows); err != nil {
		return payloadError("position", err)
	}
	for _, row := range rows {
		qty, err := market.ParseFloat(market.VenueOKX, "pos", row.Pos)
		if err != nil {
			return err
		}
		entry, err := market.ParseFloat(market.VenueOKX, "avgPx", row.AvgPx)
		if err != nil {
			return err
		}
		pnl, err := market.ParseFloat(market.VenueOKX, "upl", row.Upl)
		if err != nil {
			return err
		}
		updated, err := market.ParseMilli(market.VenueOKX, "uTime", row.UTime)
		if err != nil {
			return err
		}
		position := market.Position{
			Instrument:    market.Instrument{Symbol: row.InstID, Venue: market.VenueOKX},
			Side:          positionSide(row.PosSide, qty),
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

func normalizeOrder(row orderDetail) (market.Order, error) {
	price := 0.0
	if strings.TrimSpace(row.Px) != "" {
		parsed, err := market.ParseFloat(market.VenueOKX, "px", row.Px)
		if err != nil {
			return market.Order{}, err
		}
		price = parsed
	}
	qty, err := market.ParseFloat(market.VenueOKX, "sz", row.Sz)
	if err != nil {
		return market.Order{}, err
	}
	filled := 0.0
	if strings.TrimSpace(row.AccFillSz) != "" {
		parsed, err := market.ParseFloat(market.VenueOKX, "accFillSz", row.AccFillSz)
		if err != nil {
			return market.Order{}, err
		}
		filled = parsed
	}
	updated, err := market.ParseMilli(market.VenueOKX, "uTime", row.UTime)
	if err != nil {
		return market.Order{}, err
	}
	return market.Order{
		ID:            row.OrdID,
		ClientOrderID: row.ClOrdID,
		Instrument:    market.Instrument{Symbol: row.InstID, Venue: market.VenueOKX},
		Side:          market.Side(row.Side),
		Type:          market.OrderType(row.OrdType),
		Price:         price,
		Quantity:      qty,
		Filled:        filled,
		Status:        statusFromState(row.State),
		UpdatedAt:     updated,
	}, nil
}

func statusFromState(state string) market.OrderStatus {
	switch state {
	case "live":
		return market.OrderStatusNew
	case "partially_filled":
		return market.OrderStatusPartiallyFilled
	case "filled":
		return market.OrderStatusFilled
	case "canceled", "mmp_canceled":
		return market.OrderStatusCancelled
	default:
		return market.OrderStatusNew
	}
}

func positionSide(posSide string, qty float64) market.Side {
	switch posSide {
	case "long":
		return market.SideBuy
	case "short":
		return market.SideSell
	}
	if qty < 0 {
		return market.SideSell
	}
	return market.SideBuy
}

// parseCandleRow decodes the positional tuple shared by the REST and
// websocket candle feeds. The confirm flag rides at index 8 when present;
// shorter historical rows are complete bars.
func parseCandleRow(row candleRow, symbol string, tf market.Timeframe) (market.Candle, error) {
	if len(row) < 6 {
		return market.Candle{}, errs.New(venueName, errs.CodeProtocol,
			errs.WithMessage("short candle tuple"),
			errs.WithField("len", strconv.Itoa(len(row))))
	}
	openTime, err := market.ParseMilli(market.VenueOKX, "ts", row[0])
	if err != nil {
		return market.Candle{}, err
	}
	open, err := market.ParseFloat(market.VenueOKX, "open", row[1])
	if err != nil {
		return market.Candle{}, err
	}
	high, err := market.ParseFloat(market.VenueOKX, "high", row[2])
	if err != nil {
		return market.Candle{}, err
	}
	low, err := market.ParseFloat(market.VenueOKX, "low", row[3])
	if err != nil {
		return market.Candle{}, err
	}
	closePrice, err := market.ParseFloat(market.VenueOKX, "close", row[4])
	if err != nil {
		return market.Candle{}, err
	}
	volume, err := market.ParseFloat(market.VenueOKX, "volume", row[5])
	if err != nil {
		return market.Candle{}, err
	}
	confirmed := true
	if len(row) > 8 {
		confirmed = row[8] == "1"
	}
	return market.Candle{
		Instrument: market.Instrument{Symbol: symbol, Venue: market.VenueOKX},
		Timeframe:  tf,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     volume,
		OpenTime:   openTime,
		Confirmed:  confirmed,
	}, nil
}

func clientOrderID() string {
	// OKX rejects client ids containing dashes.
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func payloadError(kind string, err error) error {
	return errs.New(venueName, errs.CodeProtocol,
		errs.WithMessage("malformed "+kind+" payload"),
		errs.WithCause(err))
}
