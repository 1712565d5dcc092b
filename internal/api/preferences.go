package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openans/ansd/internal/notification"
)

// SlotList is the body of GET /bundles/:bundle/slots.
type SlotList struct {
	Slots []notification.Slot `json:"slots"`
	Count int                 `json:"count"`
}

// ToggleRequest is the body of the badge and enabled endpoints.
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// DoNotDisturbResponse is the body of GET /dnd.
type DoNotDisturbResponse struct {
	notification.DoNotDisturbDate
	Supported bool `json:"supported"`
}

func slotTypeParam(c echo.Context, operation string) (notification.SlotType, error) {
	t, err := notification.ParseSlotType(c.Param("type"))
	if err != nil {
		return 0, invalidParam(operation, err)
	}
	return t, nil
}

func (s *Server) getSlots(c echo.Context) error {
	bundle, err := caller(c, "get_slots")
	if err != nil {
		return err
	}
	slots, err := s.service.GetSlotsByBundle(c.Request().Context(), bundle)
	if err != nil {
		return err
	}
	if slots == nil {
		slots = []notification.Slot{}
	}
	return c.JSON(http.StatusOK, SlotList{Slots: slots, Count: len(slots)})
}

func (s *Server) getSlotNum(c echo.Context) error {
	bundle, err := caller(c, "get_slot_num")
	if err != nil {
		return err
	}
	n, err := s.service.GetSlotNumByBundle(c.Request().Context(), bundle)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountResponse{Count: n})
}

func (s *Server) getSlot(c echo.Context) error {
	const op = "get_slot"

	bundle, err := caller(c, op)
	if err != nil {
		return err
	}
	t, err := slotTypeParam(c, op)
	if err != nil {
		return err
	}
	slot, err := s.service.GetSlot(c.Request().Context(), bundle, t)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slot)
}

// addSlot handles POST /bundles/:bundle/slots. An existing slot of the same
// type is kept.
func (s *Server) addSlot(c echo.Context) error {
	const op = "add_slot"

	bundle, err := caller(c, op)
	if err != nil {
		return err
	}
	var slot notification.Slot
	if err := c.Bind(&slot); err != nil {
		return invalidParam(op, err)
	}
	if err := s.service.AddSlot(c.Request().Context(), bundle, slot); err != nil {
		return err
	}
	return c.NoContent(http.StatusCreated)
}

// setSlot handles PUT /bundles/:bundle/slots/:type. The path type wins over
// the body.
func (s *Server) setSlot(c echo.Context) error {
	const op = "set_slot"

	bundle, err := caller(c, op)
	if err != nil {
		return err
	}
	t, err := slotTypeParam(c, op)
	if err != nil {
		return err
	}
	var slot notification.Slot
	if err := c.Bind(&slot); err != nil {
		return invalidParam(op, err)
	}
	slot.Type = t

	if err := s.service.SetSlotByBundle(c.Request().Context(), bundle, slot); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) removeSlot(c echo.Context) error {
	const op = "remove_slot"

	bundle, err := caller(c, op)
	if err != nil {
		return err
	}
	t, err := slotTypeParam(c, op)
	if err != nil {
		return err
	}
	if err := s.service.RemoveSlot(c.Request().Context(), bundle, t); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) removeAllSlots(c echo.Context) error {
	bundle, err := caller(c, "remove_all_slots")
	if err != nil {
		return err
	}
	if err := s.service.RemoveAllSlots(c.Request().Context(), bundle); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getDoNotDisturbDate(c echo.Context) error {
	date, err := s.service.GetDoNotDisturbDate(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DoNotDisturbResponse{
		DoNotDisturbDate: date,
		Supported:        s.service.SupportDoNotDisturbMode(),
	})
}

func (s *Server) setDoNotDisturbDate(c echo.Context) error {
	const op = "set_do_not_disturb_date"

	var date notification.DoNotDisturbDate
	if err := c.Bind(&date); err != nil {
		return invalidParam(op, err)
	}
	if err := s.service.SetDoNotDisturbDate(c.Request().Context(), date); err != nil {
		return err
	}
	return s.getDoNotDisturbDate(c)
}

func bindToggle(c echo.Context, operation string) (bool, error) {
	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return false, invalidParam(operation, err)
	}
	if req.Enabled == nil {
		return false, invalidParam(operation, errMissingEnabled)
	}
	return *req.Enabled, nil
}

func (s *Server) isBadgeDisplayed(c echo.Context) error {
	bundle, err := caller(c, "is_badge_displayed")
	if err != nil {
		return err
	}
	enabled, err := s.service.IsBadgeDisplayed(c.Request().Context(), bundle)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) displayBadge(c echo.Context) error {
	const op = "display_badge"

	bundle, err := caller(c, op)
	if err != nil {
		return err
	}
	enabled, err := bindToggle(c, op)
	if err != nil {
		return err
	}
	if err := s.service.DisplayBadge(c.Request().Context(), bundle, enabled); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) isNotificationEnabled(c echo.Context) error {
	bundle, err := caller(c, "is_notification_enabled")
	if err != nil {
		return err
	}
	enabled, err := s.service.IsNotificationEnabled(c.Request().Context(), bundle)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) enableNotification(c echo.Context) error {
	const op = "enable_notification"

	bundle, err := caller(c, op)
	if err != nil {
		return err
	}
	enabled, err := bindToggle(c, op)
	if err != nil {
		return err
	}
	if err := s.service.EnableNotification(c.Request().Context(), bundle, enabled); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"enabled": enabled})
}
