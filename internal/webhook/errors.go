package webhook

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeConflict        = "WEBHOOK_PATH_CONFLICT"
	TextCodeQueueFull       = "WEBHOOK_QUEUE_FULL"
	TextCodeUnknownListener = "WEBHOOK_UNKNOWN_LISTENER"
	TextCodeUnknownPath     = "WEBHOOK_UNKNOWN_PATH"
	TextCodeInvalidListener = "WEBHOOK_INVALID_LISTENER"
)

func registryError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func errConflict(path string, owner Identity) error {
	return registryError(
		inUseReason(path, owner),
		goerrors.CategoryConflict,
		http.StatusConflict,
		TextCodeConflict,
		map[string]any{"path": path, "definition_id": owner.DefinitionID, "element_id": owner.ElementID},
	)
}

func errAlreadyRegistered(path string, id Identity) error {
	return registryError(
		fmt.Sprintf("listener %s is already registered on path %q", id, path),
		goerrors.CategoryConflict,
		http.StatusConflict,
		TextCodeConflict,
		map[string]any{"path": path, "definition_id": id.DefinitionID, "element_id": id.ElementID},
	)
}

func errCapacityExceeded(path string, capacity int) error {
	return registryError(
		fmt.Sprintf("waiting queue for path %q is full (%d)", path, capacity),
		goerrors.CategoryRateLimit,
		http.StatusTooManyRequests,
		TextCodeQueueFull,
		map[string]any{"path": path, "capacity": capacity},
	)
}

func errUnknownListener(id Identity) error {
	return registryError(
		fmt.Sprintf("listener %s is not registered", id),
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		TextCodeUnknownListener,
		map[string]any{"path": id.ContextPath, "definition_id": id.DefinitionID, "element_id": id.ElementID},
	)
}

func errUnknownPath(path string) error {
	return registryError(
		fmt.Sprintf("no listeners registered for path %q", path),
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		TextCodeUnknownPath,
		map[string]any{"path": path},
	)
}

func errInvalidListener(reason string) error {
	return registryError(
		"invalid listener: "+reason,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		TextCodeInvalidListener,
		nil,
	)
}

func hasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

func IsConflict(err error) bool         { return hasTextCode(err, TextCodeConflict) }
func IsCapacityExceeded(err error) bool { return hasTextCode(err, TextCodeQueueFull) }
func IsUnknownListener(err error) bool  { return hasTextCode(err, TextCodeUnknownListener) }
func IsUnknownPath(err error) bool      { return hasTextCode(err, TextCodeUnknownPath) }
