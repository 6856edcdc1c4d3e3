package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds returned by the control plane. Callers match them with errors.Is.
// 控制平面返回的错误类型，调用方使用 errors.Is 进行匹配。
var (
	ErrStaleTicket      = errors.New("stale ticket")
	ErrBusy             = errors.New("resource busy")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrRateLimited      = errors.New("rate limited")
	ErrNotFound         = errors.New("not found")
	ErrExhausted        = errors.New("resource exhausted")
	ErrInvalid          = errors.New("invalid argument")
	ErrPermissionDenied = errors.New("permission denied")
	ErrExists           = errors.New("already exists")
	ErrNotRunning       = errors.New("not running")
	ErrNotSupported     = errors.New("not supported")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

var kinds = []struct {
	err  error
	name string
	code int
}{
	{ErrStaleTicket, "stale-ticket", http.StatusConflict},
	{ErrBusy, "busy", http.StatusConflict},
	{ErrDuplicate, "duplicate", http.StatusConflict},
	{ErrRateLimited, "rate-limited", http.StatusTooManyRequests},
	{ErrNotFound, "not-found", http.StatusNotFound},
	{ErrExhausted, "exhausted", http.StatusInsufficientStorage},
	{ErrInvalid, "invalid", http.StatusBadRequest},
	{ErrPermissionDenied, "permission-denied", http.StatusForbidden},
	{ErrExists, "exists", http.StatusConflict},
	{ErrNotRunning, "not-running", http.StatusConflict},
	{ErrNotSupported, "not-supported", http.StatusNotImplemented},
	{ErrConfigInvalid, "config-invalid", http.StatusBadRequest},
}

// Kind returns the short kind name of err, or "internal" for unknown errors.
// Kind 返回错误的简短类型名，未知错误返回 "internal"。
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// FromKind maps a kind name back to its sentinel error.
// FromKind 将类型名映射回哨兵错误。
func FromKind(kind string) error {
	for _, k := range kinds {
		if k.name == kind {
			return k.err
		}
	}
	return nil
}

// HTTPStatus maps err to the status code used by the control API.
// HTTPStatus 将错误映射为控制 API 使用的状态码。
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return http.StatusInternalServerError
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func NewStaleTicketError(what string, got, want uint32) error {
	return fmt.Errorf("%w: %s ticket %d (current %d)", ErrStaleTicket, what, got, want)
}

func NewBusyError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBusy, fmt.Sprintf(format, args...))
}

func NewNotFoundError(what string, key any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, what, key)
}

func NewExhaustedError(what string, limit int) error {
	return fmt.Errorf("%w: %s (limit %d)", ErrExhausted, what, limit)
}

func NewInvalidError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func NewDuplicateError(what string, key any) error {
	return fmt.Errorf("%w: %s %v", ErrDuplicate, what, key)
}

func NewRateLimitedError(src string, limit uint32, seconds uint32) error {
	return fmt.Errorf("%w: %s exceeds %d/%ds", ErrRateLimited, src, limit, seconds)
}

func NewPermissionError(op string) error {
	return fmt.Errorf("%w: %s requires firewall-admin", ErrPermissionDenied, op)
}

func NewConfigError(field string, value interface{}) error {
	return fmt.Errorf("%w: field=%s value=%v", ErrConfigInvalid, field, value)
}
