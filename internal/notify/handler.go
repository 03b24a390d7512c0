package notify

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify/entity"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/utilities"
)

// DeliveryLister reads the delivery log.
type DeliveryLister interface {
	ListByRecipient(ctx context.Context, recipient string, limit int) ([]*entity.Delivery, error)
}

// DeliveryHandler lets admins inspect what was sent to an address.
type DeliveryHandler struct {
	deliveries DeliveryLister
	logger     *zap.SugaredLogger
}

func NewDeliveryHandler(d DeliveryLister, logger *zap.SugaredLogger) *DeliveryHandler {
	return &DeliveryHandler{deliveries: d, logger: logger}
}

func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "recipient is required", "")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.deliveries.ListByRecipient(r.Context(), recipient, limit)
	if err != nil {
		h.logger.Warnw("list deliveries failed", "err", err)
		utilities.WriteMessage(w, http.StatusInternalServerError, utilities.CategoryError, "list deliveries failed", "")
		return
	}
	utilities.WriteJSON(w, http.StatusOK, out)
}
