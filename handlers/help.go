package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskpro/services"
)

type HelpHandler struct {
	helpService *services.HelpService
	logger      *log.Logger
}

func NewHelpHandler(helpService *services.HelpService, logger *log.Logger) *HelpHandler {
	return &HelpHandler{helpService: helpService, logger: logger}
}

// NeedHelp records a help request and mails the caller a confirmation
func (h *HelpHandler) NeedHelp(w http.ResponseWriter, r *http.Request) {
	var req services.HelpInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if _, err := h.helpService.Submit(r.Context(), currentUser(r), req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Email sent successfully!")
}
