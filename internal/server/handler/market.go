package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oddsflow/settler/internal/domain"
)

// MarketHandler serves market inspection and the suspend/resume controls.
type MarketHandler struct {
	markets domain.MarketStore
	bets    domain.BetStore
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets domain.MarketStore, bets domain.BetStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		bets:    bets,
		logger:  logger,
	}
}

// marketResponse is the inspection payload for one market.
type marketResponse struct {
	Market   domain.Market    `json:"market"`
	Outcomes []domain.Outcome `json:"outcomes"`
	OpenBets int64            `json:"open_bets"`
}

// GetMarket returns a market with its outcomes and open-bet count.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	m, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	outcomes, err := h.markets.GetOutcomes(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get outcomes failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load outcomes")
		return
	}

	open, err := h.bets.CountOpen(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count open bets failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count bets")
		return
	}

	writeJSON(w, http.StatusOK, marketResponse{
		Market:   m,
		Outcomes: outcomes,
		OpenBets: open,
	})
}

// ListBets returns all bets on a market.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if _, err := h.markets.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	bets, err := h.bets.ListByMarket(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list bets failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"bets":      bets,
		"total":     len(bets),
	})
}

// SuspendMarket halts trading on a market. The prior status is remembered
// so a later resume restores it.
// POST /api/markets/{id}/suspend
func (h *MarketHandler) SuspendMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "suspend", "suspended", h.markets.Suspend)
}

// ResumeMarket restores a suspended market to its pre-suspension status.
// POST /api/markets/{id}/resume
func (h *MarketHandler) ResumeMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", "resumed", h.markets.Resume)
}

func (h *MarketHandler) transition(w http.ResponseWriter, r *http.Request, action, past string, op func(ctx context.Context, id string) error) {
	id := pathParam(r, "id")

	err := op(r.Context(), id)
	switch {
	case err == nil:
		h.logger.InfoContext(r.Context(), "market "+past,
			slog.String("market_id", id),
		)
		writeJSON(w, http.StatusOK, map[string]string{
			"market_id": id,
			"status":    past,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "market not found")
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrStatusConflict):
		writeError(w, http.StatusConflict, "market cannot be "+past+" in its current status")
	default:
		h.logger.ErrorContext(r.Context(), action+" market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+action+" market")
	}
}
