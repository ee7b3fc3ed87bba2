package httpserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes groups handlers. User routes run behind auth; operator routes
// additionally require the elevated role.
type Routes struct {
	SessionStart    http.HandlerFunc
	SessionEnd      http.HandlerFunc
	SessionAutoEnd  http.HandlerFunc
	SessionModify   http.HandlerFunc
	SessionRestore  http.HandlerFunc
	SessionsMe      http.HandlerFunc
	TransactionsMe  http.HandlerFunc
	SessionsFeed    http.HandlerFunc
	ActiveSessions  http.HandlerFunc
	AdminReconcile  http.HandlerFunc
	Health          http.HandlerFunc
	AuthMiddleware  func(http.Handler) http.Handler
	OperatorGate    func(http.Handler) http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	authed := func(h http.HandlerFunc) http.Handler {
		if routes.AuthMiddleware == nil {
			return h
		}
		return routes.AuthMiddleware(h)
	}
	operator := func(h http.HandlerFunc) http.Handler {
		var wrapped http.Handler = h
		if routes.OperatorGate != nil {
			wrapped = routes.OperatorGate(wrapped)
		}
		if routes.AuthMiddleware != nil {
			wrapped = routes.AuthMiddleware(wrapped)
		}
		return wrapped
	}

	if routes.SessionStart != nil {
		mux.Handle("/sessions/start", method(http.MethodPost, authed(routes.SessionStart)))
	}
	if routes.SessionEnd != nil {
		mux.Handle("/sessions/end", method(http.MethodPost, authed(routes.SessionEnd)))
	}
	if routes.SessionAutoEnd != nil {
		mux.Handle("/sessions/auto-end", method(http.MethodPost, authed(routes.SessionAutoEnd)))
	}
	if routes.SessionModify != nil {
		mux.Handle("/sessions/modify-end", method(http.MethodPost, authed(routes.SessionModify)))
	}
	if routes.SessionRestore != nil {
		mux.Handle("/sessions/restore", method(http.MethodGet, authed(routes.SessionRestore)))
	}
	if routes.SessionsMe != nil {
		mux.Handle("/sessions/me", method(http.MethodGet, authed(routes.SessionsMe)))
	}
	if routes.TransactionsMe != nil {
		mux.Handle("/transactions/me", method(http.MethodGet, authed(routes.TransactionsMe)))
	}
	if routes.SessionsFeed != nil {
		mux.Handle("/sessions/feed", method(http.MethodGet, authed(routes.SessionsFeed)))
	}
	if routes.ActiveSessions != nil {
		mux.Handle("/sessions/active", method(http.MethodGet, operator(routes.ActiveSessions)))
	}
	if routes.AdminReconcile != nil {
		mux.Handle("/admin/reconcile", method(http.MethodPost, operator(routes.AdminReconcile)))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func method(expected string, handler http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	}
}
