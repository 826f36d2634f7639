package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskpro/database"
	"github.com/CrowderSoup/taskpro/services"
)

// AuthHandler handles account endpoints
type AuthHandler struct {
	authService *services.AuthService
	logger      *log.Logger
}

func NewAuthHandler(authService *services.AuthService, logger *log.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

type userSummary struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarURL"`
}

func summarize(u *database.User) userSummary {
	return userSummary{Name: u.Name, Email: u.Email, AvatarURL: u.AvatarURL}
}

// Register creates an account
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.authService.Register(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Succesful registration!",
		"user":    summarize(user),
	})
}

// Login checks the credentials and returns a session token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, token, err := h.authService.Login(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome " + user.Name,
		"user":    summarize(user),
		"token":   token,
	})
}

// Current returns the signed-in user
func (h *AuthHandler) Current(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"name":      user.Name,
			"avatarURL": user.AvatarURL,
			"theme":     user.Theme,
		},
	})
}

func (h *AuthHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req services.ProfileInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.authService.UpdateProfile(r.Context(), currentUser(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Successfully data updated!",
		"update":  summarize(user),
	})
}

func (h *AuthHandler) ChangeTheme(w http.ResponseWriter, r *http.Request) {
	var req services.ThemeInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.authService.ChangeTheme(r.Context(), currentUser(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Theme updated successfully",
		"owner":   user.ID,
		"theme":   user.Theme,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.Logout(r.Context(), currentUser(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Successfully logged out!")
}

// SetBackground stores the caller's background image
func (h *AuthHandler) SetBackground(w http.ResponseWriter, r *http.Request) {
	var req services.BackgroundInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.authService.SetBackground(r.Context(), currentUser(r), mux.Vars(r)["userId"], req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":         "Succesfully setup background image!",
		"backgroundImage": user.BackgroundImage,
	})
}
