package scraper

import (
	"errors"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
)

const genericErrorMessage = "Une erreur inattendue est survenue pendant l'extraction de l'annonce."

// NewResult wraps the outcome of Run or ParseHTML in the envelope returned to
// API and job callers. Unexpected errors carry a generic message only.
func NewResult(rawURL string, listing *models.ParsedListing, err error) *models.ScrapeResult {
	if err == nil {
		return &models.ScrapeResult{
			Listing: listing,
			Success: true,
		}
	}

	result := &models.ScrapeResult{
		Error: &models.Error{
			Code:    string(KindUnexpected),
			Message: genericErrorMessage,
			Time:    time.Now(),
			URL:     rawURL,
		},
	}

	var pe *PipelineError
	if errors.As(err, &pe) {
		result.Error.Code = string(pe.Kind)
		result.NeedsManualInput = pe.NeedsManualInput
		if pe.Kind != KindUnexpected {
			result.Error.Message = pe.Message
		}
	}

	return result
}
