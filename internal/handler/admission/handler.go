package admission

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
)

type LedgerService interface {
	Admit(ctx context.Context, req *model.AdmitRequest) (*model.Admission, error)
	Discharge(ctx context.Context, id uuid.UUID) (*model.Admission, error)
	GetAdmission(ctx context.Context, id uuid.UUID) (*model.Admission, error)
	PatientHistory(ctx context.Context, patientID uuid.UUID) (*model.PatientHistory, error)
}

type TransferService interface {
	TransferPatient(ctx context.Context, admissionID uuid.UUID, req *model.TransferRequest) (*model.TransferResult, error)
}

type Handler struct {
	ledger    LedgerService
	transfers TransferService
}

func NewHandler(ledger LedgerService, transfers TransferService) *Handler {
	return &Handler{ledger: ledger, transfers: transfers}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admissions := r.Group("/admissions")
	{
		admissions.POST("", h.Admit)
		admissions.GET("/:id", h.GetAdmission)
		admissions.POST("/:id/discharge", h.Discharge)
		admissions.POST("/:id/transfer", h.Transfer)
	}
	r.GET("/patients/:id/history", h.PatientHistory)
}

func (h *Handler) Admit(c *gin.Context) {
	var req model.AdmitRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	admission, err := h.ledger.Admit(c.Request.Context(), &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(admission))
}

func (h *Handler) GetAdmission(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	admission, err := h.ledger.GetAdmission(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(admission))
}

func (h *Handler) Discharge(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	admission, err := h.ledger.Discharge(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(admission))
}

func (h *Handler) Transfer(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req model.TransferRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	result, err := h.transfers.TransferPatient(c.Request.Context(), id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) PatientHistory(c *gin.Context) {
	id, err := handler.ParamID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	history, err := h.ledger.PatientHistory(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(history))
}
