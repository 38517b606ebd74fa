package api

import (
	"net/http"
	"pricing-service/internal/entity"
	"pricing-service/internal/service"

	"github.com/labstack/echo/v4"
)

type DocumentHandler struct {
	documentService *service.DocumentService
}

// NewDocumentHandler creates a new instance of DocumentHandler
func NewDocumentHandler(documentService *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

type DocumentRequest struct {
	Kind   entity.DocumentKind  `json:"kind" validate:"omitempty,oneof=invoice quote"`
	Client entity.ClientContext `json:"client"`
	Items  []entity.LineItem    `json:"items" validate:"required,min=1,dive"`
}

// CreateDocument --> POST /api/v1/documents
func (h *DocumentHandler) CreateDocument(c echo.Context) error {
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if req.Kind == "" {
		req.Kind = entity.DocumentInvoice
	}
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, err)
	}

	doc := &entity.Document{
		StoreID: claimsFrom(c).StoreID,
		Kind:    req.Kind,
		Client:  req.Client,
		Lines:   make([]entity.AdjustedLineItem, len(req.Items)),
	}
	for i, item := range req.Items {
		doc.Lines[i].LineItem = item
	}

	created, err := h.documentService.Create(c.Request().Context(), doc)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// GetDocument --> GET /api/v1/documents/:id
func (h *DocumentHandler) GetDocument(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorJSON(c, err)
	}
	doc, err := h.documentService.Get(c.Request().Context(), claimsFrom(c).StoreID, id)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// UpdateDocument replaces the lines of a draft --> PUT /api/v1/documents/:id
func (h *DocumentHandler) UpdateDocument(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorJSON(c, err)
	}
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, err)
	}

	doc, err := h.documentService.Update(c.Request().Context(), claimsFrom(c).StoreID, id, req.Items, req.Client)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// FinalizeDocument --> POST /api/v1/documents/:id/finalize
func (h *DocumentHandler) FinalizeDocument(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorJSON(c, err)
	}
	idempotentKey := c.Request().Header.Get("Idempotent-Key")

	doc, err := h.documentService.Finalize(c.Request().Context(), claimsFrom(c).StoreID, id, idempotentKey)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// CancelDocument --> POST /api/v1/documents/:id/cancel
func (h *DocumentHandler) CancelDocument(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorJSON(c, err)
	}
	doc, err := h.documentService.Cancel(c.Request().Context(), claimsFrom(c).StoreID, id)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}
