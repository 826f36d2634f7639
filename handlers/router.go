package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/CrowderSoup/taskpro/services"
)

// Services are the collaborators the HTTP surface needs
type Services struct {
	Auth   *services.AuthService
	Guard  *services.Guard
	Boards *services.BoardService
	Help   *services.HelpService
	Hub    *services.Hub
}

type RouterOptions struct {
	AllowedOrigins []string
	// requests per second allowed on register and login, per client
	AuthRate  rate.Limit
	AuthBurst int
}

// NewRouter wires every API route
func NewRouter(svc Services, opts RouterOptions, logger *log.Logger) http.Handler {
	if opts.AuthRate == 0 {
		opts.AuthRate = rate.Limit(1)
	}
	if opts.AuthBurst == 0 {
		opts.AuthBurst = 5
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	authMiddleware := NewAuthMiddleware(svc.Guard, logger)
	limiter := NewRateLimiter(opts.AuthRate, opts.AuthBurst, logger)

	authHandler := NewAuthHandler(svc.Auth, logger)
	boardHandler := NewBoardHandler(svc.Boards, logger)
	helpHandler := NewHelpHandler(svc.Help, logger)
	wsHandler := NewWebSocketHandler(svc.Hub, opts.AllowedOrigins, logger)

	r := mux.NewRouter()
	r.Use(Logging(logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Public auth routes
	public := api.PathPrefix("/auth").Subrouter()
	public.Use(limiter.Limit)
	public.HandleFunc("/register", authHandler.Register).Methods("POST")
	public.HandleFunc("/login", authHandler.Login).Methods("POST")

	// Everything below needs a session
	private := api.NewRoute().Subrouter()
	private.Use(authMiddleware.Auth)

	private.HandleFunc("/auth/current", authHandler.Current).Methods("GET")
	private.HandleFunc("/auth/update", authHandler.Update).Methods("PATCH")
	private.HandleFunc("/auth/change-theme", authHandler.ChangeTheme).Methods("PATCH")
	private.HandleFunc("/auth/logout", authHandler.Logout).Methods("GET")
	private.HandleFunc("/auth/users/{userId}/set-background", authHandler.SetBackground).Methods("PATCH")
	private.HandleFunc("/need-help", helpHandler.NeedHelp).Methods("POST")
	private.HandleFunc("/ws", wsHandler.HandleWebSocket).Methods("GET")

	private.HandleFunc("/boards", boardHandler.CreateDashboard).Methods("POST")
	private.HandleFunc("/boards", boardHandler.ListDashboards).Methods("GET")

	board := private.PathPrefix("/boards/{slug}").Subrouter()
	board.Use(authMiddleware.Board)

	board.HandleFunc("", boardHandler.GetDashboard).Methods("GET")
	board.HandleFunc("", boardHandler.UpdateDashboard).Methods("PATCH")
	board.HandleFunc("", boardHandler.DeleteDashboard).Methods("DELETE")

	// Column routes must be registered before the card routes they shadow
	board.HandleFunc("/column", boardHandler.CreateColumn).Methods("POST")
	board.HandleFunc("/column/{id}", boardHandler.UpdateColumn).Methods("PATCH")
	board.HandleFunc("/column/{id}", boardHandler.DeleteColumn).Methods("DELETE")
	board.HandleFunc("/column/{id}", boardHandler.CreateCard).Methods("POST")

	board.HandleFunc("/{id}", boardHandler.UpdateCard).Methods("PATCH")
	board.HandleFunc("/{id}", boardHandler.DeleteCard).Methods("DELETE")

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
