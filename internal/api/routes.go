package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-studio/internal/download"
	"github.com/heimdex/heimdex-studio/internal/session"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Post("/render/init", initHandler(cfg))
		r.Post("/render/append/{sessionId}", appendHandler(cfg))
		r.Post("/render/finish/{sessionId}", finishHandler(cfg))
		r.Get("/render/status/{sessionId}", statusHandler(cfg))
		r.Get("/render/download/{sessionId}", downloadHandler(cfg))
		r.Get("/render/sessions/{sessionId}", getSessionHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: uptime,
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Media = &MediaToolsResponse{
					CanDecode:   caps.CanDecode,
					FFmpeg:      caps.FFmpeg.Version,
					FFprobe:     caps.FFprobe.Version,
					LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func initHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		sess, err := cfg.Service.Init(r.Context(), session.InitParams{
			Width:  req.Width,
			Height: req.Height,
			FPS:    req.FPS,
			Format: req.Format,
		})
		if err != nil {
			writeSessionError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, InitResponse{SessionID: sess.ID})
	}
}

func appendHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionId")

		n, err := cfg.Service.Append(r.Context(), id, r.Body)
		if err != nil {
			writeSessionError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, AppendResponse{Bytes: n})
	}
}

func finishHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionId")

		sess, err := cfg.Service.Finish(r.Context(), id)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		if cfg.Runner != nil {
			cfg.Runner.Wake()
		}

		WriteJSON(w, http.StatusAccepted, SessionToStatus(sess))
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "sessionId"))
		if err != nil {
			writeSessionError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, SessionToStatus(sess))
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "sessionId"))
		if err != nil {
			writeSessionError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, SessionToResponse(sess))
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	files := download.NewServer(cfg.Logger)
	return func(w http.ResponseWriter, r *http.Request) {
		f, sess, err := cfg.Service.Open(r.Context(), chi.URLParam(r, "sessionId"))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		defer f.Close()

		if err := files.ServeFile(w, r, f, sess.ID+".avi"); err != nil {
			cfg.Logger.Error("download error", "error", err, "session_id", sess.ID)
			WriteError(w, http.StatusInternalServerError, "download failed", "INTERNAL_ERROR")
		}
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
	case errors.Is(err, session.ErrInvalidState):
		WriteError(w, http.StatusConflict, err.Error(), "INVALID_STATE")
	case errors.Is(err, session.ErrInvalidInit):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, session.ErrTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), "TOO_LARGE")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
