package worklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/restrack/restrack/internal/domain/identity"
	"github.com/restrack/restrack/internal/domain/order"
	"github.com/restrack/restrack/internal/platform/auth"
	"github.com/restrack/restrack/pkg/pagination"
)

// OwnerResolver maps the authenticated username to a user id.
type OwnerResolver interface {
	UserIDByUsername(ctx context.Context, username string) (int64, error)
}

type Handler struct {
	svc    *Service
	owners OwnerResolver
	log    zerolog.Logger
}

func NewHandler(svc *Service, owners OwnerResolver, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, owners: owners, log: logger}
}

// RegisterRoutes mounts the worklist and order routes. Every mutation also
// accepts its body as a JSON path segment for older clients.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	wl := api.Group("/worklists")
	wl.POST("/", h.CreateWorklist)
	wl.GET("/all/", h.ListAll)
	wl.GET("/user/:user_id", h.ListSubscribed)
	wl.GET("/all_unsubscribed/:user_id", h.ListUnsubscribed)
	wl.GET("/stats/:id", h.Stats)
	wl.GET("/:id", h.GetWorklist)
	wl.PUT("/:id", h.UpdateWorklist)
	wl.DELETE("/:id", h.DeleteWorklist)
	withPayload(wl.POST, "/copy", h.CopyWorklist)

	withPayload(api.PUT, "/subscribe_to_worklist", h.Subscribe)
	withPayload(api.DELETE, "/unsubscribe_worklist", h.Unsubscribe)

	api.GET("/worklist_orders/:id", h.OrdersForWorklist)
	api.GET("/orders_for_patient/:id", h.OrdersForPatient)
	withPayload(api.PUT, "/add_to_worklist", h.AddOrders)
	withPayload(api.DELETE, "/remove_order_from_worklist", h.RemoveOrders)
	withPayload(api.PUT, "/comment_orders", h.SetStatus)
	withPayload(api.PUT, "/update_priority", h.SetPriority)
	withPayload(api.POST, "/annotate", h.SetNote)
	withPayload(api.PUT, "/copy_to_worklist", h.CopyOrders)
}

type routeFunc func(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route

func withPayload(add routeFunc, path string, h echo.HandlerFunc) {
	add(path, h)
	add(path+"/:payload", h)
}

// bind decodes the legacy path payload when present, the request body
// otherwise, then validates.
func bind(c echo.Context, dst validator) error {
	if raw := c.Param("payload"); raw != "" {
		if s, err := url.PathUnescape(raw); err == nil {
			raw = s
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload: "+err.Error())
		}
	} else if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := dst.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// mapError turns service errors into HTTP errors. Unexpected ones are
// logged and hidden behind a generic message.
func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrEmptyName), errors.Is(err, ErrDuplicateName), errors.Is(err, ErrInvalidRole):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDeleteNotFound), errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrSubscriptionMissing), errors.Is(err, ErrOrdersNotInWorklist),
		errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrNoInvestigations):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrUpstream):
		h.log.Error().Err(err).Str("route", c.Path()).Msg("warehouse request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "External server error")
	default:
		h.log.Error().Err(err).Str("route", c.Path()).Msg("worklist request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}
}

// softFail reports a failed batch as false with 200.
func (h *Handler) softFail(c echo.Context, op string, err error) error {
	h.log.Error().Err(err).Str("op", op).Msg("batch operation failed")
	return c.JSON(http.StatusOK, false)
}

// -- Worklists --

func (h *Handler) CreateWorklist(c echo.Context) error {
	var req createRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	owner := req.CreatedBy
	if username := auth.UsernameFromContext(c.Request().Context()); username != "" && h.owners != nil {
		id, err := h.owners.UserIDByUsername(c.Request().Context(), username)
		if errors.Is(err, identity.ErrNotFound) {
			// The token outlived its account.
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
		}
		if err != nil {
			return h.mapError(c, err)
		}
		owner = id
	}
	if owner <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "created_by is required")
	}
	wl, err := h.svc.CreateWorklist(c.Request().Context(), req.Name, req.Description, owner)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, wl)
}

func (h *Handler) GetWorklist(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	wl, err := h.svc.GetWorklist(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, wl)
}

func (h *Handler) UpdateWorklist(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req updateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	wl, err := h.svc.UpdateWorklist(c.Request().Context(), id, req.Name, req.Description)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, wl)
}

func (h *Handler) ListAll(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAll(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path))
}

func (h *Handler) ListSubscribed(c echo.Context) error {
	userID, err := pathID(c, "user_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListSubscribed(c.Request().Context(), userID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListUnsubscribed(c echo.Context) error {
	userID, err := pathID(c, "user_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListUnsubscribed(c.Request().Context(), userID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteWorklist(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteWorklist(c.Request().Context(), id); err != nil {
		return h.mapError(c, err)
	}
	h.log.Info().Int64("worklist_id", id).Str("by", auth.UsernameFromContext(c.Request().Context())).Msg("worklist deleted")
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Worklist %d deleted", id),
	})
}

func (h *Handler) Stats(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusOK, Stats{})
	}
	return c.JSON(http.StatusOK, h.svc.Stats(c.Request().Context(), id))
}

func (h *Handler) CopyWorklist(c echo.Context) error {
	var req copyWorklistRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.CopyWorklist(c.Request().Context(), req.Source, req.Target); err != nil {
		return h.softFail(c, "copy_worklist", err)
	}
	return c.JSON(http.StatusOK, true)
}

// -- Subscriptions --

func (h *Handler) Subscribe(c echo.Context) error {
	var req subscriptionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.Subscribe(c.Request().Context(), req.UserID, req.WorklistID, req.Role); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, true)
}

func (h *Handler) Unsubscribe(c echo.Context) error {
	var req subscriptionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sub, err := h.svc.Unsubscribe(c.Request().Context(), req.UserID, req.WorklistID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

// -- Orders --

func (h *Handler) OrdersForWorklist(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	view, err := h.svc.OrdersForWorklist(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) OrdersForPatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	view, err := h.svc.OrdersForPatient(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) AddOrders(c echo.Context) error {
	var req ordersRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.AddOrders(c.Request().Context(), req.WorklistID, req.OrderIDs); err != nil {
		return h.softFail(c, "add_orders", err)
	}
	return c.JSON(http.StatusOK, true)
}

func (h *Handler) RemoveOrders(c echo.Context) error {
	var req ordersRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	removed, err := h.svc.RemoveOrders(c.Request().Context(), req.WorklistID, req.OrderIDs)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, removed[0])
}

func (h *Handler) SetStatus(c echo.Context) error {
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.SetStatus(c.Request().Context(), req.OrderIDs, req.Action); err != nil {
		h.log.Error().Err(err).Msg("update order status")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update order status")
	}
	return c.JSON(http.StatusOK, true)
}

func (h *Handler) SetPriority(c echo.Context) error {
	var req priorityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.SetPriority(c.Request().Context(), req.OrderIDs, req.Priority); err != nil {
		h.log.Error().Err(err).Msg("update order priority")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update order priority")
	}
	return c.JSON(http.StatusOK, true)
}

func (h *Handler) SetNote(c echo.Context) error {
	var req noteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.SetNote(c.Request().Context(), req.WorklistID, req.OrderIDs, req.NoteText); err != nil {
		h.log.Error().Err(err).Msg("update order notes")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update order notes")
	}
	return c.JSON(http.StatusOK, true)
}

func (h *Handler) CopyOrders(c echo.Context) error {
	var req copyOrdersRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.CopyOrders(c.Request().Context(), req.Source, req.Target, req.OrderIDs); err != nil {
		return h.softFail(c, "copy_orders", err)
	}
	return c.JSON(http.StatusOK, true)
}
