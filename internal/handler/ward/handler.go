package ward

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
)

type WardService interface {
	CreateWard(ctx context.Context, req *model.CreateWardRequest) (*model.Ward, error)
	GetWard(ctx context.Context, id uuid.UUID) (*model.Ward, error)
	ListWards(ctx context.Context) ([]*model.Ward, error)
}

type OccupancyService interface {
	ListByWard(ctx context.Context, wardID uuid.UUID, status *model.AdmissionStatus) ([]*model.Admission, error)
}

type Handler struct {
	wards     WardService
	occupancy OccupancyService
}

func NewHandler(wards WardService, occupancy OccupancyService) *Handler {
	return &Handler{wards: wards, occupancy: occupancy}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	wards := r.Group("/wards")
	{
		wards.POST("", h.CreateWard)
		wards.GET("", h.ListWards)
		wards.GET("/:id", h.GetWard)
		wards.GET("/:id/admissions", h.ListAdmissions)
	}
}

func (h *Handler) CreateWard(c *gin.Context) {
	var req model.CreateWardRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	ward, err := h.wards.CreateWard(c.Request.Context(), &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(ward))
}

func (h *Handler) GetWard(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	ward, err := h.wards.GetWard(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(ward))
}

func (h *Handler) ListWards(c *gin.Context) {
	wards, err := h.wards.ListWards(c.Request.Context())
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(wards))
}

func (h *Handler) ListAdmissions(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if _, err := h.wards.GetWard(c.Request.Context(), id); err != nil {
		handler.Fail(c, err)
		return
	}

	var status *model.AdmissionStatus
	if raw := c.Query("status"); raw != "" {
		s, err := model.ParseAdmissionStatus(raw)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		status = &s
	}

	admissions, err := h.occupancy.ListByWard(c.Request.Context(), id, status)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(admissions))
}
