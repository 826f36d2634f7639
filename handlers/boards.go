package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskpro/database"
	"github.com/CrowderSoup/taskpro/services"
)

// BoardHandler serves dashboards, their columns and cards
type BoardHandler struct {
	boardService *services.BoardService
	logger       *log.Logger
}

func NewBoardHandler(boardService *services.BoardService, logger *log.Logger) *BoardHandler {
	return &BoardHandler{
		boardService: boardService,
		logger:       logger,
	}
}

func (h *BoardHandler) CreateDashboard(w http.ResponseWriter, r *http.Request) {
	var req services.DashboardInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	board, err := h.boardService.CreateDashboard(r.Context(), currentUser(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *BoardHandler) ListDashboards(w http.ResponseWriter, r *http.Request) {
	boards, err := h.boardService.ListDashboards(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if boards == nil {
		boards = []database.Dashboard{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dashboards": boards})
}

// GetDashboard returns the board with its columns and cards
func (h *BoardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.boardService.View(r.Context(), currentBoard(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BoardHandler) UpdateDashboard(w http.ResponseWriter, r *http.Request) {
	var req services.DashboardInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	board, err := h.boardService.UpdateDashboard(r.Context(), currentBoard(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *BoardHandler) DeleteDashboard(w http.ResponseWriter, r *http.Request) {
	if err := h.boardService.DeleteDashboard(r.Context(), currentUser(r), mux.Vars(r)["slug"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Dashboard deleted successfully")
}

func (h *BoardHandler) CreateColumn(w http.ResponseWriter, r *http.Request) {
	var req services.ColumnInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	column, err := h.boardService.CreateColumn(r.Context(), currentBoard(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, column)
}

// UpdateColumn answers with the new column order when the column was
// moved, and with the column otherwise.
func (h *BoardHandler) UpdateColumn(w http.ResponseWriter, r *http.Request) {
	var req services.ColumnInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.boardService.UpdateColumn(r.Context(), currentBoard(r), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if result.Moved {
		writeJSON(w, http.StatusOK, result.Columns)
		return
	}
	writeJSON(w, http.StatusOK, result.Column)
}

func (h *BoardHandler) DeleteColumn(w http.ResponseWriter, r *http.Request) {
	if err := h.boardService.DeleteColumn(r.Context(), currentBoard(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Column deleted successfully")
}

func (h *BoardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req services.CardInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	card, err := h.boardService.CreateCard(r.Context(), currentBoard(r), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *BoardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var req services.CardInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	card, err := h.boardService.UpdateCard(r.Context(), currentBoard(r), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *BoardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := h.boardService.DeleteCard(r.Context(), currentBoard(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Card deleted successfully")
}
