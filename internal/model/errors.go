package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by repositories and services
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrNotStored  = errors.New("invoice artifacts are not stored")
	ErrInvalidPIN = errors.New("invalid or expired retrieval PIN")

	// ErrArtifactsChanged is returned when re-rendering an invoice that has
	// moved past stored would not reproduce its recorded artifacts
	ErrArtifactsChanged = errors.New("issued invoice artifacts would change")
)

// AssemblyError represents missing order or party data
type AssemblyError struct {
	OrderID string
	Field   string
	Message string
	Cause   error
}

func (e *AssemblyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("assembly failed [order %s] %s: %s (%v)", e.OrderID, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("assembly failed [order %s] %s: %s", e.OrderID, e.Field, e.Message)
}

func (e *AssemblyError) Unwrap() error {
	return e.Cause
}

// NewAssemblyError creates a new assembly error
func NewAssemblyError(orderID, field, message string, cause error) *AssemblyError {
	return &AssemblyError{
		OrderID: orderID,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// RenderError represents template/field completeness failures
type RenderError struct {
	Format  string
	Field   string
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("render failed [%s] %s: %s (%v)", e.Format, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("render failed [%s] %s: %s", e.Format, e.Field, e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// NewRenderError creates a new render error
func NewRenderError(format, field, message string, cause error) *RenderError {
	return &RenderError{
		Format:  format,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// Storage error codes
const (
	ErrCodeFileTooLarge      = "FILE_TOO_LARGE"
	ErrCodeContentType       = "CONTENT_TYPE_NOT_ALLOWED"
	ErrCodeTransport         = "TRANSPORT"
	ErrCodeObjectNotFound    = "NOT_FOUND"
	ErrCodeInvalidObjectPath = "INVALID_PATH"
)

// StorageError represents upload and retrieval failures
type StorageError struct {
	Code    string
	Path    string
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new storage error
func NewStorageError(code, path, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Path:    path,
		Message: message,
		Cause:   cause,
	}
}

// DeliveryError represents email/SMS transport failures
type DeliveryError struct {
	Channel   string
	Recipient string
	Message   string
	Cause     error
}

func (e *DeliveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("delivery failed [%s to %s]: %s (%v)", e.Channel, e.Recipient, e.Message, e.Cause)
	}
	return fmt.Sprintf("delivery failed [%s to %s]: %s", e.Channel, e.Recipient, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// NewDeliveryError creates a new delivery error
func NewDeliveryError(channel, recipient, message string, cause error) *DeliveryError {
	return &DeliveryError{
		Channel:   channel,
		Recipient: recipient,
		Message:   message,
		Cause:     cause,
	}
}
