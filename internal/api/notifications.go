package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	mw "github.com/openans/ansd/internal/api/middleware"
	"github.com/openans/ansd/internal/notification"
)

// NotificationList is the body of the list endpoints.
type NotificationList struct {
	Notifications []*notification.Notification `json:"notifications"`
	Count         int                          `json:"count"`
}

// CountResponse carries a single count.
type CountResponse struct {
	Count int `json:"count"`
}

func newNotificationList(list []*notification.Notification) NotificationList {
	if list == nil {
		list = []*notification.Notification{}
	}
	return NotificationList{Notifications: list, Count: len(list)}
}

// parseUID reads an int32 uid. Empty means 0, which matches any uid.
func parseUID(raw string) (int32, error) {
	if raw == "" {
		return 0, nil
	}
	uid, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("uid %q is not a 32-bit integer", raw)
	}
	return int32(uid), nil
}

// caller identifies the bundle from the path and the uid from the
// X-Bundle-UID header.
func caller(c echo.Context, operation string) (notification.BundleOption, error) {
	bundle, err := url.PathUnescape(c.Param("bundle"))
	if err != nil {
		return notification.BundleOption{}, invalidParam(operation, fmt.Errorf("bundle: %w", err))
	}
	uid, err := parseUID(c.Request().Header.Get(mw.HeaderBundleUID))
	if err != nil {
		return notification.BundleOption{}, invalidParam(operation, err)
	}
	return notification.BundleOption{Bundle: bundle, UID: uid}, nil
}

// publish handles POST /bundles/:bundle/notifications.
// Under the drop policy a request over quota answers 202 with admitted=false.
func (s *Server) publish(c echo.Context) error {
	const op = "publish"

	bundle, err := caller(c, op)
	if err != nil {
		return err
	}

	var req notification.Request
	if err := c.Bind(&req); err != nil {
		return invalidParam(op, err)
	}

	result, err := s.service.PublishWithResult(c.Request().Context(), bundle, &req)
	if err != nil {
		if notification.CodeOf(err) == notification.CodeOverMaxActivePerSecond {
			return &overQuotaError{error: err, retryAfter: result.Decision.RetryAfter}
		}
		return err
	}
	return c.JSON(http.StatusAccepted, result)
}

// getActiveNotifications handles GET /bundles/:bundle/notifications.
func (s *Server) getActiveNotifications(c echo.Context) error {
	bundle, err := caller(c, "get_active_notifications")
	if err != nil {
		return err
	}
	list, err := s.service.GetActiveNotifications(bundle)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newNotificationList(list))
}

// getActiveNotificationCount handles GET /bundles/:bundle/notifications/count.
func (s *Server) getActiveNotificationCount(c echo.Context) error {
	bundle, err := caller(c, "get_active_notification_count")
	if err != nil {
		return err
	}
	count, err := s.service.GetActiveNotificationCount(bundle)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountResponse{Count: count})
}

// cancel handles DELETE /bundles/:bundle/notifications/:id?label=.
func (s *Server) cancel(c echo.Context) error {
	const op = "cancel"

	bundle, err := caller(c, op)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return invalidParam(op, fmt.Errorf("id %q is not a 32-bit integer", c.Param("id")))
	}

	if err := s.service.Cancel(c.Request().Context(), bundle, int32(id), c.QueryParam("label")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// cancelAll handles DELETE /bundles/:bundle/notifications.
func (s *Server) cancelAll(c echo.Context) error {
	bundle, err := caller(c, "cancel_all")
	if err != nil {
		return err
	}
	if err := s.service.CancelAll(c.Request().Context(), bundle); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// getAllActiveNotifications handles GET /notifications.
func (s *Server) getAllActiveNotifications(c echo.Context) error {
	return c.JSON(http.StatusOK, newNotificationList(s.service.GetAllActiveNotifications()))
}

// remove handles DELETE /notifications/:hash.
func (s *Server) remove(c echo.Context) error {
	hash, err := url.PathUnescape(c.Param("hash"))
	if err != nil {
		return invalidParam("remove", err)
	}
	if err := s.service.Remove(c.Request().Context(), hash); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// removeAll handles DELETE /notifications?bundle=&uid=. Without a bundle
// every bundle is cleared.
func (s *Server) removeAll(c echo.Context) error {
	const op = "remove_all"

	var filter *notification.BundleOption
	if name := c.QueryParam("bundle"); name != "" {
		uid, err := parseUID(c.QueryParam("uid"))
		if err != nil {
			return invalidParam(op, err)
		}
		filter = &notification.BundleOption{Bundle: name, UID: uid}
	} else if c.QueryParam("uid") != "" {
		return invalidParam(op, fmt.Errorf("uid requires a bundle"))
	}

	if err := s.service.RemoveAll(c.Request().Context(), filter); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// getSubscriptions handles GET /subscriptions.
func (s *Server) getSubscriptions(c echo.Context) error {
	subs := s.service.Subscriptions()
	if subs == nil {
		subs = []notification.SubscriptionInfo{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}
