package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/stakedex/pkg/app/core/asset"
	"github.com/uhyunpark/stakedex/pkg/app/core/mempool"
	"github.com/uhyunpark/stakedex/pkg/app/core/transaction"
	"github.com/uhyunpark/stakedex/pkg/app/exchange"
	"github.com/uhyunpark/stakedex/pkg/metrics"
)

var errInvalidAmount = errors.New("amount must be a non-negative whole number of base units")

type Options struct {
	CORSOrigins  []string
	MaxBodyBytes int64
	Metrics      *metrics.APIMetrics
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *exchange.App
	router  *mux.Router
	hub     *Hub
	log     *zap.Logger
	metrics *metrics.APIMetrics
	opts    Options
}

func NewServer(app *exchange.App, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = int64(app.Config().MaxTxBytes)
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(log.Named("ws"), opts.Metrics),
		log:     log,
		metrics: opts.Metrics,
		opts:    opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.observe)

	// Chain
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/blocks/{height:[0-9]+}", s.handleGetBlock).Methods(http.MethodGet)
	api.HandleFunc("/receipts/{id}", s.handleGetReceipt).Methods(http.MethodGet)
	api.HandleFunc("/receipts/tx/{hash}", s.handleGetReceiptByTx).Methods(http.MethodGet)

	// Markets
	api.HandleFunc("/tokens", s.handleGetTokens).Methods(http.MethodGet)
	api.HandleFunc("/pairs", s.handleGetPairs).Methods(http.MethodGet)
	api.HandleFunc("/pools", s.handleGetPools).Methods(http.MethodGet)
	api.HandleFunc("/depth", s.handleGetDepth).Methods(http.MethodGet).Queries("tokenIn", "{tokenIn}", "tokenOut", "{tokenOut}")
	api.HandleFunc("/books/{id:[0-9]+}/depth", s.handleGetBookDepth).Methods(http.MethodGet)
	api.HandleFunc("/quote/out", s.handleQuote(true)).Methods(http.MethodGet)
	api.HandleFunc("/quote/in", s.handleQuote(false)).Methods(http.MethodGet)

	// Accounts
	api.HandleFunc("/positions/{id:[0-9]+}", s.handleGetPosition).Methods(http.MethodGet)
	api.HandleFunc("/owners/{address}/positions", s.handleGetPositions).Methods(http.MethodGet)
	api.HandleFunc("/balances/{address}", s.handleGetBalances).Methods(http.MethodGet)
	api.HandleFunc("/nonce/{address}", s.handleGetNonce).Methods(http.MethodGet)
	api.HandleFunc("/allowance", s.handleGetAllowance).Methods(http.MethodGet).Queries("token", "{token}", "owner", "{owner}", "spender", "{spender}")

	// Actions
	api.HandleFunc("/tx", s.handleSubmitTx).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router behind the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Hub() *Hub { return s.hub }

// Start serves addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("api_listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := ""
		if cur := mux.CurrentRoute(r); cur != nil {
			route, _ = cur.GetPathTemplate()
		}
		s.metrics.Observe(route, rec.status, time.Since(start))
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending := make(map[string]int)
	for class, n := range s.app.Pending() {
		pending[class.String()] = n
	}
	cfg := s.app.Config()
	respondJSON(w, Status{
		Height:    s.app.Height(),
		AppHash:   s.app.AppHash().Hex(),
		ChainID:   cfg.ChainID,
		Admin:     cfg.Admin,
		Contracts: s.app.Contracts(),
		Pending:   pending,
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseInt(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	rec, err := s.app.Block(height)
	if err != nil {
		respondError(w, http.StatusNotFound, "block not found", err.Error())
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.app.Receipt(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "receipt not found", err.Error())
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleGetReceiptByTx(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid tx hash", raw)
		return
	}
	rec, err := s.app.ReceiptByTx(common.BytesToHash(b))
	if err != nil {
		respondError(w, http.StatusNotFound, "receipt not found", err.Error())
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.app.Tokens()
	out := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		out[i] = TokenInfo{
			Address:        t.Address,
			Name:           t.Meta.Name,
			Symbol:         t.Meta.Symbol,
			Decimals:       t.Meta.Decimals,
			TransferFeeBps: t.Meta.TransferFeeBps,
			Supply:         str(t.Supply),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.app.Pairs()
	out := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		out[i] = PairInfo{
			Index:    p.Index,
			Token0:   p.Token0,
			Token1:   p.Token1,
			Book0:    p.Books[0],
			Book1:    p.Books[1],
			Pool:     p.Pool,
			Reserve0: str(p.Reserve0),
			Reserve1: str(p.Reserve1),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := s.app.Pools()
	out := make([]PoolInfo, len(pools))
	for i, p := range pools {
		out[i] = PoolInfo{
			Address:  p.Address,
			Token0:   p.Token0,
			Token1:   p.Token1,
			Reserve0: str(p.Reserve0),
			Reserve1: str(p.Reserve1),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tokenIn, ok := parseAddress(w, vars["tokenIn"])
	if !ok {
		return
	}
	tokenOut, ok := parseAddress(w, vars["tokenOut"])
	if !ok {
		return
	}
	book, levels, err := s.app.Depth(tokenIn, tokenOut)
	if err != nil {
		respondError(w, http.StatusNotFound, "pair not found", err.Error())
		return
	}
	respondJSON(w, BookDepth{
		Book:     book,
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		Levels:   levelsInfo(levels, s.app.Config().Dex.Scale),
		Height:   s.app.Height(),
	})
}

func (s *Server) handleGetBookDepth(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid book id", err.Error())
		return
	}
	depth, err := s.bookDepth(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "book not found", err.Error())
		return
	}
	respondJSON(w, depth)
}

func (s *Server) bookDepth(id uint64) (BookDepth, error) {
	book, levels, err := s.app.BookDepth(id)
	if err != nil {
		return BookDepth{}, err
	}
	return BookDepth{
		Book:     book.ID,
		TokenIn:  book.TokenIn,
		TokenOut: book.TokenOut,
		Levels:   levelsInfo(levels, s.app.Config().Dex.Scale),
		Height:   s.app.Height(),
	}, nil
}

// handleQuote serves /quote/out (amount is the exact input) and /quote/in
// (amount is the exact output). path is a comma separated token list.
// amountDecimal may replace amount and is scaled by the fixed token's decimals.
func (s *Server) handleQuote(exactIn bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var path []common.Address
		for _, part := range strings.Split(q.Get("path"), ",") {
			addr, ok := parseAddress(w, strings.TrimSpace(part))
			if !ok {
				return
			}
			path = append(path, addr)
		}
		if len(path) < 2 {
			respondError(w, http.StatusBadRequest, "invalid path", "need at least two tokens")
			return
		}

		fixedToken := path[len(path)-1]
		if exactIn {
			fixedToken = path[0]
		}
		var (
			amount *uint256.Int
			err    error
		)
		switch {
		case q.Get("amount") != "":
			amount, err = parseAmount(q.Get("amount"), 0)
		case q.Get("amountDecimal") != "":
			amount, err = parseAmount(q.Get("amountDecimal"), int32(s.decimals(fixedToken)))
		default:
			err = errInvalidAmount
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
			return
		}

		quote := s.app.QuoteIn
		if exactIn {
			quote = s.app.QuoteOut
		}
		res, err := quote(amount, path)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "no quote", err.Error())
			return
		}
		respondJSON(w, quoteInfo(path, res))
	}
}

func (s *Server) decimals(token common.Address) uint8 {
	if asset.ParseToken(token).IsNative() {
		return 18
	}
	for _, t := range s.app.Tokens() {
		if t.Address == token {
			return t.Meta.Decimals
		}
	}
	return 0
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid position id", err.Error())
		return
	}
	p, err := s.app.Position(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "position not found", err.Error())
		return
	}
	respondJSON(w, positionInfo(p, s.app.Config().Dex.Scale))
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	scale := s.app.Config().Dex.Scale
	positions := s.app.PositionsOf(owner)
	out := make([]PositionInfo, len(positions))
	for i, p := range positions {
		out[i] = positionInfo(p, scale)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	b := s.app.Balances(owner)
	out := BalanceInfo{Address: owner, Native: str(b.Native), Tokens: make(map[common.Address]string, len(b.Tokens))}
	for t, v := range b.Tokens {
		out.Tokens[t] = str(v)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, NonceInfo{Address: addr, Nonce: s.app.Nonce(addr)})
}

func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token, ok := parseAddress(w, vars["token"])
	if !ok {
		return
	}
	owner, ok := parseAddress(w, vars["owner"])
	if !ok {
		return
	}
	spender, ok := parseAddress(w, vars["spender"])
	if !ok {
		return
	}
	respondJSON(w, AllowanceInfo{
		Token:     token,
		Owner:     owner,
		Spender:   spender,
		Allowance: str(s.app.Allowance(token, owner, spender)),
	})
}

// handleSubmitTx checks the envelope and signature and queues the action.
// Nonces below the sender's next nonce are refused here; everything else is
// decided when the action executes.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	tx, sender, err := s.app.CheckTx(body)
	if err != nil {
		status, msg := submitStatus(err)
		respondError(w, status, msg, err.Error())
		return
	}
	nonce, _ := tx.NonceValue()
	if next := s.app.Nonce(sender) + 1; nonce < next {
		respondError(w, http.StatusConflict, "stale nonce", fmt.Sprintf("next nonce is %d", next))
		return
	}

	class, err := s.app.PushTx(body)
	if err != nil {
		status, msg := submitStatus(err)
		respondError(w, status, msg, err.Error())
		return
	}

	s.log.Debug("tx_submitted",
		zap.String("kind", string(tx.Kind)),
		zap.Stringer("sender", sender),
		zap.Uint64("nonce", nonce),
		zap.String("class", class.String()),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{
		Status: "submitted",
		TxHash: ethCrypto.Keccak256Hash(body),
		Sender: sender,
		Class:  class.String(),
	})
}

func submitStatus(err error) (int, string) {
	switch {
	case errors.Is(err, transaction.ErrMalformed), errors.Is(err, transaction.ErrUnknownKind):
		return http.StatusBadRequest, "malformed transaction"
	case errors.Is(err, transaction.ErrBadSignature), errors.Is(err, transaction.ErrSenderMismatch):
		return http.StatusUnauthorized, "bad signature"
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, mempool.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "transaction too large"
	case errors.Is(err, mempool.ErrFull):
		return http.StatusServiceUnavailable, "mempool full"
	default:
		return http.StatusBadRequest, "rejected"
	}
}

// ==============================
// Broadcast Methods (called after commit)
// ==============================

// BroadcastBlock publishes a committed block: the block header on "blocks",
// fills and swaps on "trades", fresh depth on "book:<id>" for every touched
// book and settled positions on "positions:<owner>".
func (s *Server) BroadcastBlock(res exchange.BlockResult) {
	failed := 0
	books := make(map[uint64]bool)
	type touched struct {
		event string
		owner common.Address
	}
	positions := make(map[uint64]touched)
	var bookOrder, posOrder []uint64

	for _, rc := range res.Receipts {
		if !rc.OK() {
			failed++
		}
		for _, ev := range rc.Events {
			if ev.Book != 0 && !books[ev.Book] {
				books[ev.Book] = true
				bookOrder = append(bookOrder, ev.Book)
			}
			switch ev.Kind {
			case "fill", "swap":
				s.hub.BroadcastToChannel("trades", TradeUpdate{
					Type:      "trade",
					Kind:      ev.Kind,
					Book:      ev.Book,
					Taker:     ev.Owner,
					TokenIn:   ev.TokenIn,
					TokenOut:  ev.TokenOut,
					Price:     ev.Price,
					AmountIn:  ev.AmountIn,
					AmountOut: ev.AmountOut,
					Fee:       ev.Fee,
					Height:    res.Height,
					Timestamp: res.Timestamp,
				})
			}
			if ev.Position != 0 {
				if _, seen := positions[ev.Position]; !seen {
					posOrder = append(posOrder, ev.Position)
				}
				positions[ev.Position] = touched{event: ev.Kind, owner: ev.Owner}
			}
		}
	}

	s.hub.BroadcastToChannel("blocks", BlockUpdate{
		Type:      "block",
		Height:    res.Height,
		Timestamp: res.Timestamp,
		AppHash:   res.AppHash,
		Txs:       len(res.Receipts),
		Failed:    failed,
	})

	for _, id := range bookOrder {
		depth, err := s.bookDepth(id)
		if err != nil {
			continue
		}
		s.hub.BroadcastToChannel(fmt.Sprintf("book:%d", id), BookUpdate{Type: "book", BookDepth: depth})
	}

	scale := s.app.Config().Dex.Scale
	for _, id := range posOrder {
		t := positions[id]
		update := PositionUpdate{Type: "position", Event: t.event, Height: res.Height}
		if p, err := s.app.Position(id); err == nil {
			update.PositionInfo = positionInfo(p, scale)
		} else {
			// closed positions are no longer stored
			update.PositionInfo = PositionInfo{ID: id, Owner: t.owner}
		}
		s.hub.BroadcastToChannel("positions:"+strings.ToLower(update.Owner.Hex()), update)
	}
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
