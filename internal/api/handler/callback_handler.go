package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"contest_judge/internal/app/service"
	"contest_judge/internal/common"
	"contest_judge/internal/common/security"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const maxCallbackBody = 1 << 20

type CallbackProcessor interface {
	HandleCallback(ctx context.Context, body []byte, headers security.SignedHeaders) (*service.CallbackAck, error)
}

type CallbackHandler struct {
	callbacks CallbackProcessor
	log       logrus.FieldLogger
}

func NewCallbackHandler(callbacks CallbackProcessor, log logrus.FieldLogger) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks, log: log}
}

func (h *CallbackHandler) RegisterRoutes(r chi.Router) {
	r.Post("/callback", h.handleCallback)
}

func (h *CallbackHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.RespondWithError(w, http.StatusRequestEntityTooLarge, "Callback body too large")
			return
		}
		h.log.WithError(err).WithField("remote", r.RemoteAddr).Info("callback body unreadable")
		common.RespondWithDomainError(w, common.ErrBodyUnreadable)
		return
	}

	headers := security.SignedHeaders{
		Timestamp:   r.Header.Get(security.HeaderTimestamp),
		Signature:   r.Header.Get(security.HeaderSignature),
		ContentHash: r.Header.Get(security.HeaderContentHash),
	}
	ack, err := h.callbacks.HandleCallback(r.Context(), body, headers)
	if err != nil {
		entry := h.log.WithError(err).WithField("remote", r.RemoteAddr)
		if common.HTTPStatusFromError(err) >= http.StatusInternalServerError {
			entry.Error("callback processing failed")
		} else {
			entry.Info("callback rejected")
		}
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, ack)
}
