package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"chamapay/internal/gateway"
	"chamapay/internal/service"
)

// callbackAck is what the gateway expects back. Anything else makes it
// redeliver.
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var accepted = callbackAck{ResultCode: 0, ResultDesc: "Accepted"}

func readCallback(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}
	return body, true
}

// ResultCallbackHandler acknowledges every well-formed result, whatever the
// reconciliation outcome, so the gateway stops redelivering it.
func ResultCallbackHandler(rec *service.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readCallback(w, r)
		if !ok {
			return
		}
		res, err := gateway.ParseResult(body)
		if err != nil {
			slog.Warn("malformed result callback", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if _, err := rec.OnResult(r.Context(), service.ResultNoticeFrom(res, body)); err != nil {
			logReconcileError("result", res, err)
		}
		writeJSON(w, http.StatusOK, accepted)
	}
}

func TimeoutCallbackHandler(rec *service.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readCallback(w, r)
		if !ok {
			return
		}
		res, err := gateway.ParseTimeout(body)
		if err != nil {
			slog.Warn("malformed timeout callback", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if _, err := rec.OnTimeout(r.Context(), service.TimeoutNoticeFrom(res, body)); err != nil {
			logReconcileError("timeout", res, err)
		}
		writeJSON(w, http.StatusOK, accepted)
	}
}

func logReconcileError(kind string, res gateway.Result, err error) {
	if errors.Is(err, service.ErrUnmatchedCallback) {
		return
	}
	slog.Error("callback reconciliation failed",
		"kind", kind, "correlation_id", res.ConversationID, "error", err)
}

func ReconcilerStatsHandler(rec *service.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rec.Stats())
	}
}
