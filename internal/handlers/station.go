package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"beverage_dispenser/internal/service"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK           = "ok"
	statusDispensing   = "dispensing"
	statusStopped      = "stopped"
	statusMaintenance  = "maintenance"
	statusIdle         = "idle"
	statusConveyorDone = "conveyor_moved"
	statusReset        = "reset"
	statusStatsReset   = "stats_reset"

	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		if httpCode >= http.StatusInternalServerError {
			h.log.Errorw(logKey, fields...)
		} else {
			h.log.Warnw(logKey, fields...)
		}
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) serviceError(c *gin.Context, logKey string, err error, kv ...interface{}) {
	h.logAndJSONError(c, statusFor(err), err.Error(), logKey, err, kv...)
}

// Respond with a status and the current station state.
func (h *Handler) respondWithStatusAndState(c *gin.Context, httpCode int, status string) {
	c.JSON(httpCode, gin.H{
		"status": status,
		"state":  h.services.Controller.GetSystemState(),
	})
}

// DispenseRequest is the payload of a dispense call.
type DispenseRequest struct {
	// Beverage key; empty selects the default beverage
	Beverage string `json:"beverage,omitempty" example:"beer"`
	// Requested volume in ml; 0 selects the beverage default
	VolumeMl float64 `json:"volume_ml,omitempty" example:"500"`
}

// ConveyorRequest is the payload of a manual conveyor move.
type ConveyorRequest struct {
	// Speed within [0,1]; 0 uses the configured speed
	Speed float64 `json:"speed" example:"0.5"`
	// How long to run the belt in milliseconds
	DurationMs int `json:"duration_ms" binding:"required" example:"2000"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Start a dispense sequence
// @Description  Accepted requests run in the background; poll /state or subscribe to /ws for progress.
// @Tags         station
// @Accept       json
// @Produce      json
// @Param        body  body   DispenseRequest  false  "Dispense payload"
// @Success      202   {object}  map[string]interface{}  "status, state"
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/dispense [post]
func (h *Handler) dispense(c *gin.Context) {
	var req DispenseRequest
	// An empty body dispenses the default beverage.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	p := service.DispenseParams{Beverage: req.Beverage, VolumeMl: req.VolumeMl}
	if err := h.services.Controller.Dispense(p.VolumeMl, p.Beverage); err != nil {
		h.serviceError(c, "dispense_failed", err, "beverage", p.Beverage, "volume_ml", p.VolumeMl)
		return
	}
	h.respondWithStatusAndState(c, http.StatusAccepted, statusDispensing)
}

// @Summary      Stop the running operation
// @Tags         station
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/stop [post]
func (h *Handler) stop(c *gin.Context) {
	if err := h.services.Controller.StopOperation(); err != nil {
		h.serviceError(c, "stop_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusStopped)
}

// @Summary      Enter maintenance mode
// @Tags         maintenance
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/maintenance/enter [post]
func (h *Handler) enterMaintenance(c *gin.Context) {
	if err := h.services.Controller.EnterMaintenanceMode(); err != nil {
		h.serviceError(c, "maintenance_enter_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusMaintenance)
}

// @Summary      Exit maintenance mode
// @Tags         maintenance
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/maintenance/exit [post]
func (h *Handler) exitMaintenance(c *gin.Context) {
	if err := h.services.Controller.ExitMaintenanceMode(); err != nil {
		h.serviceError(c, "maintenance_exit_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusIdle)
}

// @Summary      Jog the conveyor
// @Description  Only allowed in maintenance mode. Blocks until the move finishes.
// @Tags         maintenance
// @Accept       json
// @Produce      json
// @Param        body  body   ConveyorRequest  true  "Conveyor payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/maintenance/conveyor [post]
func (h *Handler) moveConveyor(c *gin.Context) {
	var req ConveyorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	d := time.Duration(req.DurationMs) * time.Millisecond
	if err := h.services.Controller.MoveConveyor(c.Request.Context(), req.Speed, d); err != nil {
		h.serviceError(c, "conveyor_move_failed", err, "speed", req.Speed, "duration", d)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusConveyorDone)
}

// @Summary      Reset the station after an error
// @Description  Clears the error counter and returns from error to idle. Error history is kept.
// @Tags         station
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/reset [post]
func (h *Handler) resetSystem(c *gin.Context) {
	if err := h.services.Controller.ResetSystem(); err != nil {
		h.serviceError(c, "reset_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusReset)
}

// @Summary      Reset the operator statistics
// @Tags         station
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/stats/reset [post]
func (h *Handler) resetStats(c *gin.Context) {
	if err := h.services.Controller.ResetStats(); err != nil {
		h.serviceError(c, "stats_reset_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusStatsReset)
}

// @Summary      Get station state
// @Tags         station
// @Produce      json
// @Success      200  {object}  models.SystemStatus
// @Router       /api/v1/state [get]
func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Controller.GetSystemState())
}

// @Summary      Get error history
// @Description  Oldest first, bounded by errors.max_history.
// @Tags         station
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, errors"
// @Router       /api/v1/errors [get]
func (h *Handler) getErrors(c *gin.Context) {
	history := h.services.Controller.GetErrorHistory()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(history),
		"errors": history,
	})
}

// @Summary      List beverage profiles
// @Tags         station
// @Produce      json
// @Success      200  {array}  models.BeverageProfile
// @Router       /api/v1/beverages [get]
func (h *Handler) getBeverages(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Controller.Beverages())
}
