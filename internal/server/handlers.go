package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rezonia/invoice-pipeline/internal/compliance"
	"github.com/rezonia/invoice-pipeline/internal/delivery"
	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
)

func invoiceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid invoice id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleStoreInvoice(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	res, err := s.app.Storage.StoreInvoice(ctx, c.Param("order_id"), actor(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, StoreResponse{
		Invoice: res.Invoice,
		PDFURL:  res.Invoice.PDFURL,
		XMLURL:  res.Invoice.XMLURL,
		Created: res.Created,
	})
}

func (s *Server) handleSendEmail(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "email is required", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	res, err := s.app.Delivery.SendInvoiceEmail(ctx, c.Param("order_id"), req.Email, actor(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := EmailResponse{
		Invoice:    res.Invoice,
		Recipient:  res.Recipient,
		Government: res.Government,
	}
	if res.FollowUp != nil {
		due := res.FollowUp.Due()
		resp.FollowUpAt = &due
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	inv, err := s.app.Store.Invoices.GetByID(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	latest, err := s.app.Compliance.LatestResults(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InvoiceResponse{Invoice: inv, Validations: latest})
}

func (s *Server) handleValidateAll(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	report, err := s.app.Compliance.ValidateInvoiceAll(ctx, id, actor(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ValidationResponse{
		InvoiceID: report.Invoice.ID,
		Status:    report.Invoice.Status,
		Passed:    report.Passed,
		Results:   report.Results,
	})
}

func (s *Server) handleValidateOne(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	typ, err := model.ParseValidationType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	result, err := s.app.Compliance.ValidateInvoice(ctx, id, typ, actor(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	inv, err := s.app.Store.Invoices.GetByID(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ValidationResponse{
		InvoiceID: id,
		Status:    inv.Status,
		Passed:    result.Passed,
		Results:   []*model.ValidationResult{result},
	})
}

func (s *Server) handleSendSMS(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	var req SMSRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	res, err := s.app.Delivery.SendInvoiceSMS(ctx, id, req.Phone, req.IncludePIN, actor(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SMSResponse{
		InvoiceID:    res.Invoice.ID,
		Phone:        delivery.MaskPhone(res.Phone),
		PINIssued:    res.PINIssued,
		PINExpiresAt: res.PINExpiresAt,
	})
}

func (s *Server) handleRetrieve(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "pin is required", Details: err.Error()})
		return
	}

	pdfURL, xmlURL, err := s.app.Delivery.VerifyPIN(c.Request.Context(), id, req.PIN, actor(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RetrieveResponse{PDFURL: pdfURL, XMLURL: xmlURL})
}

func (s *Server) handleAuditLog(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	entries, err := s.app.Audit.ListByInvoice(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice_id": id, "entries": entries})
}

func (s *Server) handleValidationResults(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	results, err := s.app.Compliance.GetAllValidationResults(c.Request.Context(), filter)
	if errors.Is(err, compliance.ErrInvalidDateRange) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

// parseFilter reads validation_type, passed, start_date, end_date and
// invoice_id. Dates are RFC 3339 or YYYY-MM-DD.
func parseFilter(c *gin.Context) (repository.ValidationFilter, error) {
	var filter repository.ValidationFilter

	if v := c.Query("validation_type"); v != "" {
		typ, err := model.ParseValidationType(v)
		if err != nil {
			return filter, err
		}
		filter.ValidationType = &typ
	}
	if v := c.Query("passed"); v != "" {
		passed, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid passed value %q", v)
		}
		filter.Passed = &passed
	}
	if v := c.Query("start_date"); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			return filter, fmt.Errorf("invalid start_date: %w", err)
		}
		filter.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			return filter, fmt.Errorf("invalid end_date: %w", err)
		}
		filter.EndDate = &t
	}
	if v := c.Query("invoice_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, fmt.Errorf("invalid invoice_id: %w", err)
		}
		filter.InvoiceID = &id
	}
	return filter, nil
}

// parseDate accepts a timestamp or a calendar day; a day used as an end bound
// covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
