package endpoints

import (
	"github.com/jackzampolin/folio/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Book endpoints
		&UploadBookEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&DeleteBookEndpoint{},

		// Metadata endpoints
		&GetMetadataEndpoint{},
		&RebuildMetadataEndpoint{},
		&RebuildAllMetadataEndpoint{},

		// Derived-data endpoints
		&ReadingTimeEndpoint{},
		&SearchEndpoint{},

		// Page asset endpoints
		&PageImageEndpoint{},
		&PageThumbnailEndpoint{},
		&CoverImageEndpoint{},

		// Job endpoints
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
	}
}
