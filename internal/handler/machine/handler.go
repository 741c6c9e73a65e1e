package machine

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
)

// Service is the machine registry as the handler sees it.
type Service interface {
	CreateMachine(ctx context.Context, req *model.CreateMachineRequest) (*model.Machine, error)
	GetMachine(ctx context.Context, id uuid.UUID) (*model.Machine, error)
	ListMachines(ctx context.Context, filters *model.MachineFilters) ([]*model.Machine, error)
	UpdateMachine(ctx context.Context, id uuid.UUID, req *model.UpdateMachineRequest) (*model.Machine, error)
	RetireMachine(ctx context.Context, id uuid.UUID) (*model.Machine, error)
	ScheduleMaintenance(ctx context.Context, id uuid.UUID, date time.Time, notes string) (*model.Machine, error)
	CompleteMaintenance(ctx context.Context, id uuid.UUID, notes string) (*model.Machine, error)
	ListNeedingMaintenance(ctx context.Context, day time.Time) ([]*model.Machine, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	machines := r.Group("/machines")
	{
		machines.POST("", h.CreateMachine)
		machines.GET("", h.ListMachines)
		machines.GET("/maintenance-due", h.ListNeedingMaintenance)
		machines.GET("/:id", h.GetMachine)
		machines.PUT("/:id", h.UpdateMachine)
		machines.DELETE("/:id", h.RetireMachine)
		machines.POST("/:id/maintenance", h.ScheduleMaintenance)
		machines.POST("/:id/maintenance/complete", h.CompleteMaintenance)
	}
}

type createMachineRequest struct {
	ID                      *uuid.UUID `json:"id"`
	Code                    string     `json:"code"`
	Name                    string     `json:"name"`
	Model                   string     `json:"model"`
	Manufacturer            string     `json:"manufacturer"`
	Location                string     `json:"location"`
	LastMaintenance         string     `json:"last_maintenance"`
	NextMaintenance         string     `json:"next_maintenance"`
	MaintenanceIntervalDays *int       `json:"maintenance_interval_days"`
}

type maintenanceRequest struct {
	Date  string `json:"date"`
	Notes string `json:"notes"`
}

func (h *Handler) CreateMachine(c *gin.Context) {
	var req createMachineRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	last, err := handler.OptionalDate(req.LastMaintenance)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	next, err := handler.OptionalDate(req.NextMaintenance)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	machine, err := h.service.CreateMachine(c.Request.Context(), &model.CreateMachineRequest{
		ID:                      req.ID,
		Code:                    req.Code,
		Name:                    req.Name,
		Model:                   req.Model,
		Manufacturer:            req.Manufacturer,
		Location:                req.Location,
		LastMaintenance:         last,
		NextMaintenance:         next,
		MaintenanceIntervalDays: req.MaintenanceIntervalDays,
	})
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(machine))
}

func (h *Handler) GetMachine(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	machine, err := h.service.GetMachine(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(machine))
}

func (h *Handler) ListMachines(c *gin.Context) {
	filters := &model.MachineFilters{}
	if raw := c.Query("status"); raw != "" {
		status, err := model.ParseMachineStatus(raw)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		filters.Status = &status
	}

	machines, err := h.service.ListMachines(c.Request.Context(), filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(machines))
}

func (h *Handler) UpdateMachine(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req model.UpdateMachineRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	machine, err := h.service.UpdateMachine(c.Request.Context(), id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(machine))
}

// RetireMachine backs DELETE: machines keep their history and are only retired.
func (h *Handler) RetireMachine(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	machine, err := h.service.RetireMachine(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(machine))
}

func (h *Handler) ScheduleMaintenance(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req maintenanceRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	machine, err := h.service.ScheduleMaintenance(c.Request.Context(), id, date, req.Notes)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(machine))
}

func (h *Handler) CompleteMaintenance(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	// the body is optional here
	var req maintenanceRequest
	if c.Request.ContentLength > 0 {
		if err := handler.BindJSON(c, &req); err != nil {
			handler.Fail(c, err)
			return
		}
	}

	machine, err := h.service.CompleteMaintenance(c.Request.Context(), id, req.Notes)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(machine))
}

func (h *Handler) ListNeedingMaintenance(c *gin.Context) {
	day, err := handler.QueryDate(c, "date")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	var on time.Time
	if day != nil {
		on = *day
	}

	machines, err := h.service.ListNeedingMaintenance(c.Request.Context(), on)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(machines))
}
