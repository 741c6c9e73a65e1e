package session

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

type Service interface {
	CreateSession(ctx context.Context, req *model.CreateSessionRequest) (*model.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	ListSessions(ctx context.Context, filters *model.SessionFilters) ([]*model.Session, error)
	FindAvailableMachines(ctx context.Context, q *model.AvailabilityQuery) ([]*model.Machine, error)
	RecordAttendance(ctx context.Context, id uuid.UUID, attendance model.Attendance) (*model.Session, error)
	RecordSessionDetails(ctx context.Context, id uuid.UUID, details *model.SessionDetails) (*model.Session, error)
	CancelSession(ctx context.Context, id uuid.UUID, reason string) (*model.Session, error)
	AssignMachine(ctx context.Context, id, machineID uuid.UUID) (*model.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/available-machines", h.FindAvailableMachines)
		sessions.GET("/:id", h.GetSession)
		sessions.PATCH("/:id/details", h.RecordSessionDetails)
		sessions.PUT("/:id/attendance", h.RecordAttendance)
		sessions.POST("/:id/cancel", h.CancelSession)
		sessions.PUT("/:id/machine", h.AssignMachine)
		sessions.DELETE("/:id", h.DeleteSession)
	}
}

// createSessionRequest takes the day as YYYY-MM-DD and the window as HH:MM on that day
// or as full RFC 3339 timestamps.
type createSessionRequest struct {
	MachineID *uuid.UUID `json:"machine_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Date      string     `json:"date"`
	StartTime string     `json:"start_time"`
	EndTime   string     `json:"end_time"`
}

type attendanceRequest struct {
	Attendance model.Attendance `json:"attendance"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type assignMachineRequest struct {
	MachineID uuid.UUID `json:"machine_id"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	day, err := model.ParseDate(req.Date)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	start, err := handler.TimeOnDay(day, req.StartTime)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	end, err := handler.TimeOnDay(day, req.EndTime)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	session, err := h.service.CreateSession(c.Request.Context(), &model.CreateSessionRequest{
		MachineID: req.MachineID,
		PatientID: req.PatientID,
		Date:      day,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(session))
}

func (h *Handler) GetSession(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	session, err := h.service.GetSession(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(session))
}

func (h *Handler) ListSessions(c *gin.Context) {
	filters := &model.SessionFilters{}
	var err error

	if filters.MachineID, err = handler.QueryID(c, "machine_id"); err != nil {
		handler.Fail(c, err)
		return
	}
	if filters.PatientID, err = handler.QueryID(c, "patient_id"); err != nil {
		handler.Fail(c, err)
		return
	}
	if filters.Date, err = handler.QueryDate(c, "date"); err != nil {
		handler.Fail(c, err)
		return
	}
	if raw := c.Query("status"); raw != "" {
		status, err := model.ParseSessionStatus(raw)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		filters.Status = &status
	}

	sessions, err := h.service.ListSessions(c.Request.Context(), filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(sessions))
}

func (h *Handler) FindAvailableMachines(c *gin.Context) {
	day, err := model.ParseDate(c.Query("date"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	start, err := handler.TimeOnDay(day, c.Query("start_time"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	q := &model.AvailabilityQuery{Date: day, StartTime: start}
	if raw := c.Query("end_time"); raw != "" {
		end, err := handler.TimeOnDay(day, raw)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		q.EndTime = &end
	}
	if q.DurationMinutes, err = handler.QueryInt(c, "duration_minutes"); err != nil {
		handler.Fail(c, err)
		return
	}

	machines, err := h.service.FindAvailableMachines(c.Request.Context(), q)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(machines))
}

func (h *Handler) RecordAttendance(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req attendanceRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	session, err := h.service.RecordAttendance(c.Request.Context(), id, req.Attendance)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(session))
}

func (h *Handler) RecordSessionDetails(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var details model.SessionDetails
	if err := handler.BindJSON(c, &details); err != nil {
		handler.Fail(c, err)
		return
	}

	session, err := h.service.RecordSessionDetails(c.Request.Context(), id, &details)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(session))
}

func (h *Handler) CancelSession(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := handler.BindJSON(c, &req); err != nil {
			handler.Fail(c, err)
			return
		}
	}

	session, err := h.service.CancelSession(c.Request.Context(), id, req.Reason)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(session))
}

func (h *Handler) AssignMachine(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req assignMachineRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	if req.MachineID == uuid.Nil {
		handler.Fail(c, apperrors.Validation("machine_id is required", nil))
		return
	}

	session, err := h.service.AssignMachine(c.Request.Context(), id, req.MachineID)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(session))
}

func (h *Handler) DeleteSession(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	if err := h.service.DeleteSession(c.Request.Context(), id); err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewMessageResponse("session deleted"))
}
