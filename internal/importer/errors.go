package importer

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidDefinition = "DEFINITION_INVALID"
	TextCodeNotDeployed       = "DEFINITION_NOT_DEPLOYED"
	TextCodeVerifyFailed      = "WEBHOOK_VERIFICATION_FAILED"
)

func importerError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func errInvalidDefinition(msg string, d Definition) error {
	return importerError(msg, goerrors.CategoryValidation, http.StatusBadRequest, TextCodeInvalidDefinition,
		map[string]any{"definition_id": d.ID, "version": d.Version})
}

func errNotDeployed(id string, version int) error {
	msg := fmt.Sprintf("definition %q is not deployed", id)
	if version > 0 {
		msg = fmt.Sprintf("definition %q version %d is not deployed", id, version)
	}
	return importerError(msg, goerrors.CategoryNotFound, http.StatusNotFound, TextCodeNotDeployed,
		map[string]any{"definition_id": id, "version": version})
}

func errVerifyFailed(element string) error {
	return importerError("webhook verification failed", goerrors.CategoryAuth, http.StatusUnauthorized, TextCodeVerifyFailed,
		map[string]any{"element_id": element})
}

func hasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.TextCode == code
}

// IsNotDeployed reports whether err says the definition is unknown.
func IsNotDeployed(err error) bool { return hasTextCode(err, TextCodeNotDeployed) }

// IsInvalidDefinition reports whether err is a validation failure.
func IsInvalidDefinition(err error) bool { return hasTextCode(err, TextCodeInvalidDefinition) }
