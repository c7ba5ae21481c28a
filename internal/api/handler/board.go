package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/api/models"
	"github.com/stationboard/stationboard/internal/api/response"
	"github.com/stationboard/stationboard/internal/card"
)

// Board is the card state read by the board endpoints.
type Board interface {
	Cards() []card.Card
	Card(key string) (card.Card, bool)
	Loading() bool
}

// Refresher re-fetches every visible card.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// BoardHandler handles board endpoints.
type BoardHandler struct {
	board     Board
	refresher Refresher
	logger    zerolog.Logger
}

// NewBoardHandler creates a new BoardHandler.
func NewBoardHandler(board Board, refresher Refresher, logger zerolog.Logger) *BoardHandler {
	return &BoardHandler{board: board, refresher: refresher, logger: logger}
}

// GetBoard handles GET /v1/board - list visible cards.
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.NewBoard(h.board.Loading(), h.board.Cards()))
}

// GetCard handles GET /v1/board/cards/* - one card by station key.
func (h *BoardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	c, ok := h.board.Card(key)
	if !ok {
		response.NotFound(w, r, "no card for station "+key)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewCard(c))
}

// RefreshBoard handles POST /v1/board/refresh - re-fetch every card.
// Failed stations have already been given their fallback card; the 502
// only reports that the refresh was incomplete.
func (h *BoardHandler) RefreshBoard(w http.ResponseWriter, r *http.Request) {
	if err := h.refresher.Refresh(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("board refresh incomplete")
		response.BadGateway(w, r, "one or more stations could not be refreshed")
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewBoard(h.board.Loading(), h.board.Cards()))
}
