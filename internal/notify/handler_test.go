package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify/entity"
)

type fakeLister struct {
	recipient string
	limit     int
}

func (f *fakeLister) ListByRecipient(_ context.Context, recipient string, limit int) ([]*entity.Delivery, error) {
	f.recipient, f.limit = recipient, limit
	return []*entity.Delivery{{ID: 1, Recipient: recipient, Status: entity.DeliverySent, Attempts: 1}}, nil
}

func TestDeliveryHandler_List(t *testing.T) {
	l := &fakeLister{}
	h := NewDeliveryHandler(l, zap.NewNop().Sugar())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/admin/deliveries?recipient=ann@example.com&limit=5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ann@example.com", l.recipient)
	assert.Equal(t, 5, l.limit)
	assert.Contains(t, rec.Body.String(), `"status":"sent"`)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/admin/deliveries", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
