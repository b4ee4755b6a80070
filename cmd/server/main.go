package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"dify-chat/internal/app"
	"dify-chat/internal/chat"
	"dify-chat/internal/config"
	"dify-chat/internal/httputil"
	"dify-chat/internal/metrics"
	"dify-chat/internal/retry"
	"dify-chat/internal/session"
)

type chatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,uuid"`
	Query     string `json:"query" validate:"required"`
}

type historyResponse struct {
	SessionID      string            `json:"session_id"`
	ConversationID string            `json:"conversation_id"`
	Messages       []session.Message `json:"messages"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Sessions.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.Log.Info("chat server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("server error", "err", err)
	}
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log, turnBudget(deps.Config))

	r.Post("/api/chat", chatHandler(deps))
	r.Get("/api/sessions/{id}/messages", historyHandler(deps))
	r.Delete("/api/sessions/{id}", resetHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	r.Handle(metrics.MetricsPath, metrics.Handler())
	return r
}

// turnBudget is the longest a single chat turn can take: every attempt
// running to its timeout plus every backoff sleep, with some slack.
func turnBudget(cfg config.Config) time.Duration {
	attempts := max(cfg.MaxAttempts, 1)
	budget := time.Duration(attempts)*cfg.RequestTimeout + 10*time.Second
	for i := 1; i < attempts; i++ {
		budget += retry.ExponentialBackoff(i, cfg.BackoffBase)
	}
	return budget
}

// chatBodyLimit caps the chat request body: a query of MaxQueryLength runes,
// each escaped as a \uXXXX surrogate pair in the worst case, plus room for the
// rest of the object.
func chatBodyLimit(cfg config.Config) int64 {
	return int64(max(cfg.MaxQueryLength, 0))*12 + 16<<10
}

func chatHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, chatBodyLimit(deps.Config))
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.Fail(deps.Log, w, "payload too large", err, http.StatusRequestEntityTooLarge)
				return
			}
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		reply, err := deps.Chat.Ask(r.Context(), req.SessionID, req.Query)
		switch {
		case errors.Is(err, chat.ErrBusy):
			httputil.Fail(deps.Log, w, err.Error(), err, http.StatusConflict)
			return
		case errors.Is(err, chat.ErrEmptyQuery), errors.Is(err, chat.ErrQueryTooLong), errors.Is(err, chat.ErrInvalidSessID):
			httputil.Fail(deps.Log, w, err.Error(), err, http.StatusBadRequest)
			return
		case err != nil:
			httputil.Fail(deps.Log, w, "chat failed", err, http.StatusInternalServerError)
			return
		}

		if !reply.Success {
			if accept := r.Header.Get("Accept-Language"); accept != "" && deps.Messages != nil {
				reply.Error = deps.Messages.ForAcceptLanguage(accept, reply.Category, reply.Reason)
			}
		}
		httputil.WriteJSON(w, http.StatusOK, reply)
	}
}

func historyHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, err := deps.Chat.History(r.Context(), id)
		if errors.Is(err, session.ErrNotFound) {
			httputil.Fail(deps.Log, w, "session not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to load session", err, http.StatusInternalServerError)
			return
		}
		messages := sess.Messages
		if messages == nil {
			messages = []session.Message{}
		}
		httputil.WriteJSON(w, http.StatusOK, historyResponse{
			SessionID:      sess.ID,
			ConversationID: sess.ConversationID,
			Messages:       messages,
		})
	}
}

func resetHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Chat.Reset(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, chat.ErrBusy) {
			httputil.Fail(deps.Log, w, err.Error(), err, http.StatusConflict)
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to reset session", err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
