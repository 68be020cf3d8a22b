package errx

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrIndexNotFound         = errors.New("index not found")
	ErrToolExecutionFailed   = errors.New("tool execution failed")
	ErrRoutingUnavailable    = errors.New("routing unavailable")
	ErrRoutingBudgetExceeded = errors.New("routing budget exceeded")
	ErrUnknownRoute          = errors.New("unknown route")
	ErrInvalidInput          = errors.New("invalid input")
)

// IndexNotFound reports that no published index exists for bookID.
func IndexNotFound(bookID string) *AppError {
	return New(fmt.Errorf("%w: book %q", ErrIndexNotFound, bookID), http.StatusNotFound,
		fmt.Sprintf("no index available for book %q", bookID))
}

// ToolExecutionFailed wraps a provider or network failure raised while running tool.
func ToolExecutionFailed(tool string, err error) *AppError {
	return New(fmt.Errorf("%w: %s: %w", ErrToolExecutionFailed, tool, err), http.StatusBadGateway,
		"an upstream service failed while answering, please try again")
}

func RoutingUnavailable(err error) *AppError {
	return New(fmt.Errorf("%w: %w", ErrRoutingUnavailable, err), http.StatusServiceUnavailable,
		"the assistant is temporarily unavailable, please try again")
}

// RoutingBudgetExceeded is raised when a turn needs more routing passes than allowed.
func RoutingBudgetExceeded(passes int) *AppError {
	msg := fmt.Sprintf("could not resolve after %d steps", passes)
	return New(fmt.Errorf("%w: %s", ErrRoutingBudgetExceeded, msg), http.StatusUnprocessableEntity, msg)
}

// UnknownRoute marks a routing decision that names a node not wired into the graph.
func UnknownRoute(route string) *AppError {
	return New(fmt.Errorf("%w: %q", ErrUnknownRoute, route), http.StatusInternalServerError, SystemErrorMessage)
}

func InvalidInput(msg string) *AppError {
	return New(fmt.Errorf("%w: %s", ErrInvalidInput, msg), http.StatusBadRequest, msg)
}
