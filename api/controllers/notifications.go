package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	"github.com/gastonanderson039-glitch/supermarketpro/api/validators"
	notifsvc "github.com/gastonanderson039-glitch/supermarketpro/internal/notifications"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/pagination"
)

// NotificationList pages the caller's in-app notifications.
func NotificationList(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), notifsvc.ListParams{
			RecipientID: actor.UserID,
			Limit:       limit,
			Cursor:      r.URL.Query().Get("cursor"),
			UnreadOnly:  r.URL.Query().Get("unread") == "true",
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]notificationResponse, 0, len(result.Items))
		for _, row := range result.Items {
			items = append(items, notificationResponse{
				ID:        row.ID,
				OrderID:   row.OrderID,
				Template:  row.Template,
				Body:      row.Body,
				ReadAt:    row.ReadAt,
				CreatedAt: row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, notificationPageResponse{Items: items, NextCursor: result.Cursor})
	}
}

// NotificationMarkRead marks a single notification as read.
func NotificationMarkRead(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		notificationID, err := pathUUID(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.MarkRead(r.Context(), actor.UserID, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "read"})
	}
}

// NotificationMarkAllRead marks every unread notification as read.
func NotificationMarkAllRead(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.MarkAllRead(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}

type notificationPageResponse struct {
	Items      []notificationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type notificationResponse struct {
	ID        uuid.UUID  `json:"id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	Template  string     `json:"template"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
