package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"beverage_dispenser/internal/models"
	"beverage_dispenser/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const (
	errFromInvalid = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid   = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"
	errRange       = "'from' must be <= 'to'"
	errLoadLogs    = "failed to load logs"
	errExportLogs  = "failed to export logs"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	eventsSheet     = "events"
)

// isDateOnly reports whether the query string represents a date without time component.
func isDateOnly(s string) bool {
	return !strings.ContainsAny(s, "T ")
}

// @Summary      List logs
// @Description  Filter logs by date (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). If 'to' is date-only, it is treated as end-of-day inclusive (23:59:59.999999999Z).
// @Tags         logs
// @Produce      json
// @Param        from  query   string  false  "Start of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD')"  example(2025-08-01)
// @Param        to    query   string  false  "End of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). Date-only treated as end of day."  example(2025-08-31)
// @Param        type  query   string  false  "Event type"  Enums(DISPENSE,ERROR,STOP,RESET,MAINTENANCE)
// @Success      200   {object}  map[string]interface{}  "count, events"
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/logs [get]
func (h *Handler) getLogs(c *gin.Context) {
	f, ok := parseLogFilter(c)
	if !ok {
		return
	}
	events, err := h.services.EventLog.List(c.Request.Context(), f)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadLogs, "logs_list_failed", err,
			"from", f.From, "to", f.To, "type", f.Type)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// @Summary      Export logs as XLSX
// @Description  Same filters as the list endpoint.
// @Tags         logs
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        from  query   string  false  "Start of range"
// @Param        to    query   string  false  "End of range"
// @Param        type  query   string  false  "Event type"  Enums(DISPENSE,ERROR,STOP,RESET,MAINTENANCE)
// @Success      200
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/logs/export [get]
func (h *Handler) exportLogs(c *gin.Context) {
	f, ok := parseLogFilter(c)
	if !ok {
		return
	}
	events, err := h.services.EventLog.List(c.Request.Context(), f)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadLogs, "logs_list_failed", err,
			"from", f.From, "to", f.To, "type", f.Type)
		return
	}
	data, err := buildEventsXLSX(events)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errExportLogs, "logs_export_failed", err)
		return
	}
	name := fmt.Sprintf("dispense-events-%s.xlsx", time.Now().UTC().Format(layoutDate))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// parseLogFilter reads from/to/type query params. On failure it writes a 400
// response and returns false.
func parseLogFilter(c *gin.Context) (service.LogFilter, bool) {
	var (
		f   service.LogFilter
		err error
	)
	// Normalize event type: trim spaces and uppercase to match expected values.
	f.Type = strings.ToUpper(strings.TrimSpace(c.Query("type")))
	if qs := c.Query("from"); qs != "" {
		f.From, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})
			return f, false
		}
	}
	// If only a date is provided, make 'to' end-of-day inclusive.
	if qs := c.Query("to"); qs != "" {
		f.To, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})
			return f, false
		}
		if isDateOnly(qs) {
			f.To = f.To.Add(24*time.Hour - time.Nanosecond).UTC()
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errRange})
		return f, false
	}
	return f, true
}

func parseQueryTime(s string) (time.Time, error) {
	// Try multiple accepted formats, normalizing to UTC.
	for _, layout := range []string{time.RFC3339, layoutDateTime, layoutDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"invalid time format %q, expected one of: "+
			"RFC3339 (e.g. 2025-08-27T15:04:05Z), "+
			"'YYYY-MM-DD HH:MM:SS', "+
			"'YYYY-MM-DD'",
		s,
	)
}

// buildEventsXLSX renders the events into a single-sheet workbook.
func buildEventsXLSX(events []models.Event) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", eventsSheet); err != nil {
		return nil, err
	}
	header := []interface{}{"Event ID", "Occurred At (UTC)", "Type", "Description", "Metadata"}
	if err := f.SetSheetRow(eventsSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, e := range events {
		meta := ""
		if e.Metadata != nil {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return nil, fmt.Errorf("event %s metadata: %w", e.EventID, err)
			}
			meta = string(b)
		}
		row := []interface{}{e.EventID, e.OccurredAt.UTC().Format(layoutDateTime), e.Type, e.Description, meta}
		if err := f.SetSheetRow(eventsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
