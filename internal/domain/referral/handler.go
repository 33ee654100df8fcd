package referral

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/referral/internal/platform/auth"
	"github.com/ehr/referral/internal/workflow"
	"github.com/ehr/referral/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleCoordinator, auth.RoleViewer))
	read.GET("/stages", h.ListStages)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/patients/:id/notes", h.ListNotes)
	read.GET("/orders", h.ListOrders)
	read.GET("/orders/:id", h.GetOrder)
	read.GET("/orders/:id/readiness", h.GetReadiness)
	read.GET("/orders/:id/regressions", h.ListRegressions)
	read.POST("/orders/:id/transition/validate", h.ValidateTransition)

	write := api.Group("", auth.RequireRole(auth.RoleCoordinator))
	write.POST("/patients", h.CreatePatient)
	write.PUT("/patients/:id/attributes", h.UpdatePatientAttributes)
	write.POST("/patients/:id/notes", h.AddNote)
	write.POST("/orders", h.CreateOrder)
	write.PUT("/orders/:id/documents/:key", h.SetDocumentStatus)
	write.POST("/orders/:id/transition", h.Transition)
	write.POST("/orders/bulk-transition", h.BulkTransition)
}

// errorBody is the JSON shape of every rejected request.
type errorBody struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	MissingDocs []workflow.DocKey `json:"missing_docs,omitempty"`
	UnknownDocs []workflow.DocKey `json:"unknown_docs,omitempty"`
}

// httpError maps service errors onto status codes. Validation failures are
// 422, unknown stages and malformed input 400, missing rows 404 and
// everything else 500.
func httpError(err error) error {
	body := errorBody{Code: errorCode(err), Message: err.Error()}

	var parErr *workflow.ParNotReadyError
	var docErr *UnknownDocumentsError
	var applyErr *ApplyError
	switch {
	case errors.As(err, &parErr):
		body.MissingDocs = parErr.Missing
		return echo.NewHTTPError(http.StatusUnprocessableEntity, body)
	case errors.As(err, &docErr):
		body.UnknownDocs = docErr.Keys
		return echo.NewHTTPError(http.StatusUnprocessableEntity, body)
	case workflow.IsValidationError(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, body)
	case errors.Is(err, workflow.ErrUnknownStage), errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, body)
	case errors.As(err, &applyErr):
		return echo.NewHTTPError(http.StatusInternalServerError, body)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, body)
	}
	body.Code = "internal"
	return echo.NewHTTPError(http.StatusInternalServerError, body)
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: msg})
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid id")
	}
	return id, nil
}

// -- Catalog --

type stagesResponse struct {
	PARStage string           `json:"par_stage"`
	Stages   []workflow.Stage `json:"stages"`
}

func (h *Handler) ListStages(c echo.Context) error {
	e := h.svc.Engine()
	return c.JSON(http.StatusOK, stagesResponse{PARStage: e.PARStage(), Stages: e.Catalog().Stages()})
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p PatientRecord
	if err := c.Bind(&p); err != nil {
		return badRequest(err.Error())
	}
	p.ID = uuid.Nil
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatientAttributes(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var attrs PatientAttributes
	if err := c.Bind(&attrs); err != nil {
		return badRequest(err.Error())
	}
	p, err := h.svc.UpdatePatientAttributes(c.Request().Context(), id, attrs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type noteRequest struct {
	Body    string     `json:"body"`
	OrderID *uuid.UUID `json:"order_id,omitempty"`
}

func (h *Handler) AddNote(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	ctx := c.Request().Context()
	n, err := h.svc.AddNote(ctx, id, req.OrderID, req.Body, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListNotes(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Orders --

func (h *Handler) CreateOrder(c echo.Context) error {
	var o OrderRecord
	if err := c.Bind(&o); err != nil {
		return badRequest(err.Error())
	}
	o.ID = uuid.Nil
	if o.PatientID == uuid.Nil {
		return badRequest("patient_id is required")
	}
	if err := h.svc.CreateOrder(c.Request().Context(), &o); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

// ListOrders lists orders in one stage with their dwell; stage is required.
func (h *Handler) ListOrders(c echo.Context) error {
	stage := c.QueryParam("stage")
	if stage == "" {
		return badRequest("stage query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListOrdersByStage(c.Request().Context(), stage, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type documentStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetDocumentStatus(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req documentStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	status, ok := workflow.ParseDocStatus(req.Status)
	if !ok {
		return badRequest("status must be Complete or Missing")
	}
	key := workflow.DocKey(strings.TrimSpace(c.Param("key")))
	if err := h.svc.SetDocumentStatus(c.Request().Context(), id, key, status); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetReadiness(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	report, err := h.svc.Readiness(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListRegressions(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListRegressions(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Transitions --

type transitionRequest struct {
	ToStage          string `json:"to_stage"`
	Note             string `json:"note"`
	RegressionReason string `json:"regression_reason"`
}

type validateResponse struct {
	Approved bool `json:"approved"`
}

func (h *Handler) bindTransition(c echo.Context) (uuid.UUID, transitionRequest, error) {
	var req transitionRequest
	id, err := paramID(c)
	if err != nil {
		return uuid.Nil, req, err
	}
	if err := c.Bind(&req); err != nil {
		return uuid.Nil, req, badRequest(err.Error())
	}
	if strings.TrimSpace(req.ToStage) == "" {
		return uuid.Nil, req, badRequest("to_stage is required")
	}
	return id, req, nil
}

func (h *Handler) ValidateTransition(c echo.Context) error {
	id, req, err := h.bindTransition(c)
	if err != nil {
		return err
	}
	if err := h.svc.CheckTransition(c.Request().Context(), id, req.ToStage, req.Note, req.RegressionReason); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, validateResponse{Approved: true})
}

func (h *Handler) Transition(c echo.Context) error {
	id, req, err := h.bindTransition(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.Transition(ctx, id, req.ToStage, req.Note, req.RegressionReason, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type bulkRequest struct {
	OrderIDs []uuid.UUID `json:"order_ids"`
	ToStage  string      `json:"to_stage"`
	Note     string      `json:"note"`
}

type bulkResponse struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
}

func (h *Handler) BulkTransition(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	if len(req.OrderIDs) == 0 {
		return badRequest("order_ids is required")
	}
	if !h.svc.Engine().Catalog().Has(req.ToStage) {
		return httpError(&workflow.UnknownStageError{Name: req.ToStage})
	}

	ctx := c.Request().Context()
	results := h.svc.BulkTransition(ctx, req.OrderIDs, req.ToStage, req.Note, auth.UserIDFromContext(ctx))
	resp := bulkResponse{Results: results}
	for _, r := range results {
		if r.Err != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	return c.JSON(http.StatusOK, resp)
}
