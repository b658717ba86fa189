package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"ramm/crypto"
	"ramm/native/ramm"
	"ramm/observability/logging"
	"ramm/services/rammd/storage"
)

const (
	opIssue   = "issue"
	opRedeem  = "redeem"
	opRatchet = "ratchet"

	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
)

type boundsJSON struct {
	BookValue string `json:"bookValue"`
	Floor     string `json:"floor"`
	Ceil      string `json:"ceil"`
}

type paramsJSON struct {
	BufferBps        uint16 `json:"bufferBps"`
	RatchetBpsPerDay uint16 `json:"ratchetBpsPerDay"`
	MCR              string `json:"mcr"`
	Bootstrap        bool   `json:"bootstrap"`
}

type assetJSON struct {
	Mint              string      `json:"mint"`
	Params            paramsJSON  `json:"params"`
	VirtualIssuance   string      `json:"virtualIssuance"`
	VirtualRedemption string      `json:"virtualRedemption"`
	LastRatchet       int64       `json:"lastRatchet"`
	IssuanceVault     string      `json:"issuanceVault,omitempty"`
	RedemptionVault   string      `json:"redemptionVault,omitempty"`
	IssuanceBalance   string      `json:"issuanceBalance,omitempty"`
	RedemptionBalance string      `json:"redemptionBalance,omitempty"`
	Supply            string      `json:"supply,omitempty"`
	Bounds            *boundsJSON `json:"bounds,omitempty"`
	ReferenceBuy      string      `json:"referenceBuy,omitempty"`
	ReferenceSell     string      `json:"referenceSell,omitempty"`
	Paused            bool        `json:"paused"`
}

type quoteJSON struct {
	Mint      string      `json:"mint"`
	Price     string      `json:"price"`
	AmountIn  string      `json:"amountIn"`
	AmountOut string      `json:"amountOut"`
	Bounds    *boundsJSON `json:"bounds,omitempty"`
	Bootstrap bool        `json:"bootstrap,omitempty"`
}

type receiptJSON struct {
	Receipt   string      `json:"receipt,omitempty"`
	Operation string      `json:"operation"`
	Mint      string      `json:"mint"`
	Account   string      `json:"account,omitempty"`
	Price     string      `json:"price"`
	AmountIn  string      `json:"amountIn"`
	AmountOut string      `json:"amountOut"`
	Bounds    *boundsJSON `json:"bounds,omitempty"`
	Bootstrap bool        `json:"bootstrap,omitempty"`
	CreatedAt int64       `json:"createdAt,omitempty"`
	TraceID   string      `json:"traceId,omitempty"`
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(field, raw string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errors.New(field + " must be a base-10 unsigned integer")
	}
	return value, nil
}

func renderBounds(b ramm.Bounds) *boundsJSON {
	return &boundsJSON{BookValue: u64(b.BookValue), Floor: u64(b.Floor), Ceil: u64(b.Ceil)}
}

func renderState(st *ramm.State) assetJSON {
	return assetJSON{
		Mint: st.Mint,
		Params: paramsJSON{
			BufferBps:        st.Params.BufferBps,
			RatchetBpsPerDay: st.Params.RatchetBpsPerDay,
			MCR:              st.Params.MinimumCapitalRequirement.Dec(),
			Bootstrap:        st.Params.Bootstrap,
		},
		VirtualIssuance:   st.VirtualIssuance.Dec(),
		VirtualRedemption: st.VirtualRedemption.Dec(),
		LastRatchet:       st.LastRatchet,
	}
}

func renderReceipt(rec storage.Receipt) receiptJSON {
	return receiptJSON{
		Receipt:   rec.ID,
		Operation: rec.Operation,
		Mint:      rec.Mint,
		Account:   rec.Account,
		Price:     u64(rec.Price),
		AmountIn:  u64(rec.AmountIn),
		AmountOut: u64(rec.AmountOut),
		Bootstrap: rec.Bootstrap,
		CreatedAt: rec.CreatedAt.Unix(),
	}
}

func traceID(r *http.Request) string {
	sc := trace.SpanContextFromContext(r.Context())
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "rammd: request failed",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

func mintParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "mint")))
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	mints, err := s.exec.Mints(r.Context())
	if err != nil {
		s.fail(w, r, "mints", err)
		return
	}
	if mints == nil {
		mints = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": mints})
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	snap, err := s.exec.Snapshot(r.Context(), mintParam(r))
	if err != nil {
		s.fail(w, r, "snapshot", err)
		return
	}
	out := renderState(snap.State)
	out.IssuanceVault = snap.IssuanceVault.String()
	out.RedemptionVault = snap.RedemptionVault.String()
	out.IssuanceBalance = u64(snap.IssuanceBalance)
	out.RedemptionBalance = u64(snap.RedemptionBalance)
	out.Supply = u64(snap.Supply)
	if snap.Bounds != nil {
		out.Bounds = renderBounds(*snap.Bounds)
	}
	out.ReferenceBuy = snap.ReferenceBuy
	out.ReferenceSell = snap.ReferenceSell
	out.Paused = snap.Paused
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	receipts, err := s.store.ListReceipts(r.Context(), mintParam(r), limit)
	if err != nil {
		s.fail(w, r, "receipts", err)
		return
	}
	out := make([]receiptJSON, 0, len(receipts))
	for _, rec := range receipts {
		out = append(out, renderReceipt(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": out})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(chi.URLParam(r, "addr")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	var mints []string
	if raw := strings.TrimSpace(r.URL.Query().Get("mints")); raw != "" {
		mints = strings.Split(raw, ",")
	} else if mints, err = s.exec.Mints(r.Context()); err != nil {
		s.fail(w, r, "mints", err)
		return
	}
	settlement, claims, err := s.exec.Balances(r.Context(), addr, mints...)
	if err != nil {
		s.fail(w, r, "balances", err)
		return
	}
	rendered := make(map[string]string, len(claims))
	for mint, balance := range claims {
		rendered[mint] = u64(balance)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":    addr.String(),
		"settlement": u64(settlement),
		"claims":     rendered,
	})
}

type amountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleQuote(redeem bool) http.HandlerFunc {
	op := "quote_issue"
	if redeem {
		op = "quote_redeem"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		amount, err := parseU64("amount", req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var quote *ramm.Quote
		if redeem {
			quote, err = s.exec.QuoteRedeem(r.Context(), mintParam(r), amount)
		} else {
			quote, err = s.exec.QuoteIssue(r.Context(), mintParam(r), amount)
		}
		if err != nil {
			s.fail(w, r, op, err)
			return
		}
		out := quoteJSON{
			Mint:      mintParam(r),
			Price:     u64(quote.Price),
			AmountIn:  u64(quote.AmountIn),
			AmountOut: u64(quote.AmountOut),
			Bootstrap: quote.Bootstrap,
		}
		if !quote.Bootstrap {
			out.Bounds = renderBounds(quote.Bounds)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleTrade(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		amount, err := parseU64("amount", req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		account, err := crypto.DecodeAddress(strings.TrimSpace(req.Account))
		if err != nil || account.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid account")
			return
		}
		principal, ok := PrincipalFromContext(r.Context())
		if !ok || (!principal.Operator() && principal.Subject != account.String()) {
			if ok {
				s.logger.WarnContext(r.Context(), "rammd: trade for foreign account rejected",
					slog.String("operation", op),
					logging.MaskField("subject", principal.Subject),
					logging.MaskField("account", account.String()))
			}
			writeError(w, http.StatusForbidden, "token subject does not match account")
			return
		}
		mint := mintParam(r)

		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key != "" {
			s.idempotent.Lock()
			defer s.idempotent.Unlock()
			prior, ok, err := s.store.Replay(r.Context(), key, op, mint, account.String())
			if err != nil {
				s.fail(w, r, op, err)
				return
			}
			if ok {
				w.Header().Set(replayHeader, "true")
				writeJSON(w, http.StatusOK, renderReceipt(prior))
				return
			}
		}

		var trade *ramm.Trade
		if op == opRedeem {
			trade, err = s.exec.Redeem(r.Context(), account, mint, amount)
		} else {
			trade, err = s.exec.Issue(r.Context(), account, mint, amount)
		}
		if err != nil {
			s.fail(w, r, op, err)
			return
		}
		out := receiptJSON{
			Operation: op,
			Mint:      trade.Mint,
			Account:   account.String(),
			Price:     u64(trade.Price),
			AmountIn:  u64(trade.AmountIn),
			AmountOut: u64(trade.AmountOut),
			Bounds:    renderBounds(trade.Bounds),
			Bootstrap: trade.Bootstrap,
			TraceID:   traceID(r),
		}
		if trade.Bootstrap {
			out.Bounds = nil
		}
		rec, err := s.store.SaveReceipt(r.Context(), key, storage.Receipt{
			Operation: op,
			Mint:      trade.Mint,
			Account:   account.String(),
			Price:     trade.Price,
			AmountIn:  trade.AmountIn,
			AmountOut: trade.AmountOut,
			Bootstrap: trade.Bootstrap,
		})
		if err != nil {
			// The trade is committed; only the receipt is missing.
			s.logger.ErrorContext(r.Context(), "rammd: persist receipt",
				slog.String("operation", op),
				slog.String("mint", trade.Mint),
				slog.String("error", err.Error()))
		} else {
			out.Receipt = rec.ID
			out.CreatedAt = rec.CreatedAt.Unix()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleRatchet(w http.ResponseWriter, r *http.Request) {
	st, applied, err := s.exec.Ratchet(r.Context(), mintParam(r))
	if err != nil {
		s.fail(w, r, opRatchet, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"state":   renderState(st),
	})
}

type initAssetRequest struct {
	Mint             string  `json:"mint"`
	BufferBps        *uint16 `json:"bufferBps"`
	RatchetBpsPerDay uint16  `json:"ratchetBpsPerDay"`
	MCR              string  `json:"mcr"`
	Bootstrap        *bool   `json:"bootstrap"`
}

func (s *Server) handleInitAsset(w http.ResponseWriter, r *http.Request) {
	var req initAssetRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	mint := strings.ToUpper(strings.TrimSpace(req.Mint))
	if mint == "" {
		writeError(w, http.StatusBadRequest, "mint required")
		return
	}
	mcr, err := ramm.ParseAmount(req.MCR)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mcr")
		return
	}
	params := ramm.Params{
		BufferBps:                 500,
		RatchetBpsPerDay:          req.RatchetBpsPerDay,
		MinimumCapitalRequirement: mcr,
		Bootstrap:                 true,
	}
	if req.BufferBps != nil {
		params.BufferBps = *req.BufferBps
	}
	if req.Bootstrap != nil {
		params.Bootstrap = *req.Bootstrap
	}
	st, err := s.exec.InitAsset(r.Context(), mint, params)
	if err != nil {
		s.fail(w, r, "init", err)
		return
	}
	writeJSON(w, http.StatusCreated, renderState(st))
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(chi.URLParam(r, "addr")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseU64("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := s.exec.Credit(r.Context(), addr, amount)
	if err != nil {
		s.fail(w, r, "credit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.String(), "settlement": u64(balance)})
}

func (s *Server) handleGetPause(w http.ResponseWriter, r *http.Request) {
	paused, err := s.exec.Paused(r.Context())
	if err != nil {
		s.fail(w, r, "paused", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused *bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Paused == nil {
		writeError(w, http.StatusBadRequest, "paused flag required")
		return
	}
	if err := s.exec.SetPaused(r.Context(), *req.Paused); err != nil {
		s.fail(w, r, "pause", err)
		return
	}
	s.logger.InfoContext(r.Context(), "rammd: pause switch updated", slog.Bool("paused", *req.Paused))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": *req.Paused})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	if format == "" {
		format = storage.ExportCSV
	}
	if format != storage.ExportCSV && format != storage.ExportParquet {
		writeError(w, http.StatusBadRequest, "format must be csv or parquet")
		return
	}
	start := time.Unix(0, 0)
	end := time.Now().Add(time.Second)
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &start}, {"to", &end}} {
		raw := strings.TrimSpace(query.Get(bound.name))
		if raw == "" {
			continue
		}
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, bound.name+" must be a unix timestamp")
			return
		}
		*bound.dst = time.Unix(secs, 0)
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}
	mint := mintParam(r)
	receipts, err := s.store.ReceiptsBetween(r.Context(), mint, start, end)
	if err != nil {
		s.fail(w, r, "export", err)
		return
	}
	var buf bytes.Buffer
	if err := storage.WriteReceipts(&buf, format, receipts); err != nil {
		s.fail(w, r, "export", err)
		return
	}
	contentType := "text/csv"
	if format == storage.ExportParquet {
		contentType = "application/vnd.apache.parquet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("receipts-%s-%d-%d.%s", mint, start.Unix(), end.Unix(), format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	s.logger.InfoContext(r.Context(), "rammd: receipts exported",
		slog.String("mint", mint),
		slog.String("format", format),
		slog.Int("count", len(receipts)))
}
