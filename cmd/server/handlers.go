package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"portfoliopricing/internal/pricing"
)

type errorResponse struct {
	Error string `json:"error"`
}

type quotesRequest struct {
	Tickers []string `json:"tickers"`
}

type quotesResponse struct {
	Quotes map[string]pricing.Quote `json:"quotes"`
}

type convertResponse struct {
	Amount    float64 `json:"amount"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Converted float64 `json:"converted"`
}

const maxBatchTickers = 500

// handleStock is the single-item validating path: typed feed errors surface
// here as status codes instead of being swallowed.
func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	q, err := s.svc.GetQuote(r.Context(), ticker)
	if err != nil {
		writeFeedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Tickers) == 0 {
		writeError(w, http.StatusBadRequest, "tickers cannot be empty")
		return
	}
	if len(req.Tickers) > maxBatchTickers {
		writeError(w, http.StatusBadRequest, "too many tickers")
		return
	}

	// Batch path: misses are simply absent, the response is always 200.
	quotes := s.svc.GetQuotes(r.Context(), req.Tickers)
	writeJSON(w, http.StatusOK, quotesResponse{Quotes: quotes})
}

func (s *Server) handleBond(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	bp, err := s.svc.BondPricePct(r.Context(), identifier)
	if err != nil {
		writeFeedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

// handleRates always answers 200: a failed provider shows up as a fallback
// table, never as an error.
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	base := strings.ToUpper(chi.URLParam(r, "base"))
	writeJSON(w, http.StatusOK, s.svc.Rates(r.Context(), base))
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a number")
		return
	}
	from := strings.ToUpper(q.Get("from"))
	to := strings.ToUpper(q.Get("to"))

	writeJSON(w, http.StatusOK, convertResponse{
		Amount:    amount,
		From:      from,
		To:        to,
		Converted: s.svc.Convert(r.Context(), amount, from, to),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeFeedError(w http.ResponseWriter, err error) {
	switch {
	case pricing.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case pricing.IsRateLimited(err):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		var unavailable *pricing.ProviderUnavailableError
		if errors.As(err, &unavailable) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
