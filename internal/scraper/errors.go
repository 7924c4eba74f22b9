package scraper

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an extraction run failed.
type ErrorKind string

const (
	KindUnsupportedSite   ErrorKind = "unsupported-site"
	KindNotImplemented    ErrorKind = "not-implemented"
	KindNavigationTimeout ErrorKind = "navigation-timeout"
	KindBlockedBySource   ErrorKind = "blocked-by-source"
	KindUnexpected        ErrorKind = "unexpected-error"
)

const blockedMessage = "Le site source a bloqué l'accès automatisé (captcha ou vérification). " +
	"Ouvrez l'annonce dans votre navigateur et saisissez les informations manuellement."

// PipelineError is the only error type returned by Service.Run.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	// NeedsManualInput tells the caller to fall back to manual entry.
	NeedsManualInput bool
	Err              error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a pipeline error, or KindUnexpected for any
// other error.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnexpected
}

// NeedsManualInput reports whether err asks the caller for manual entry.
func NeedsManualInput(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.NeedsManualInput
}

func errUnsupportedSite(rawURL string) *PipelineError {
	return &PipelineError{
		Kind:    KindUnsupportedSite,
		Message: fmt.Sprintf("site non supporté: %s", rawURL),
	}
}

func errNotImplemented(site string) *PipelineError {
	return &PipelineError{
		Kind:    KindNotImplemented,
		Message: fmt.Sprintf("l'extraction %s n'est pas encore disponible", site),
	}
}

func errNavigationTimeout(err error) *PipelineError {
	return &PipelineError{
		Kind:    KindNavigationTimeout,
		Message: "la page n'a pas répondu à temps",
		Err:     err,
	}
}

func errBlocked() *PipelineError {
	return &PipelineError{
		Kind:             KindBlockedBySource,
		Message:          blockedMessage,
		NeedsManualInput: true,
	}
}

func errUnexpected(message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindUnexpected,
		Message: message,
		Err:     err,
	}
}
