package handlers

import (
	"github.com/gorilla/mux"
	"github.com/qcom/chatauth/internal/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", authHandlers.Health).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/email/initiate", authHandlers.InitiateEmailCode).Methods("POST", "OPTIONS")
	auth.HandleFunc("/email/verify", authHandlers.VerifyEmailCode).Methods("POST", "OPTIONS")
	auth.HandleFunc("/oauth2/callback", authHandlers.OAuthCallback).Methods("POST", "OPTIONS")
	auth.HandleFunc("/google", authHandlers.GoogleLogin).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods("POST", "OPTIONS")
	auth.HandleFunc("/logout", authHandlers.Logout).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/me", authHandlers.Me).Methods("GET")

	return router
}
