package endpoints

import (
	"github.com/jackzampolin/straighten/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	eps := []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&APIHealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Session endpoints
		&UploadEndpoint{},
		&ListSessionsEndpoint{},
		&GetSessionEndpoint{},
		&DeleteSessionEndpoint{},

		// Page endpoints
		&ListPagesEndpoint{},
		&PageImageEndpoint{},
		&RectifyPageEndpoint{},
		&RotatePageEndpoint{},
		&PageBackgroundEndpoint{},
		&UndoPageEndpoint{},

		// Batch endpoints
		&StartBatchEndpoint{},
		&BatchStatusEndpoint{},

		// Export endpoints
		&ExportEndpoint{},
		&DownloadExportEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingsEndpoint{},
		&ListDefaultsEndpoint{},
		&CredentialsEndpoint{},
	}

	// Swagger/OpenAPI endpoints
	return append(eps,
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath, Endpoints: eps},
		&SwaggerUIEndpoint{},
	)
}

// SessionCommands groups session commands under "sessions".
func SessionCommands() []api.Endpoint {
	return []api.Endpoint{
		&UploadEndpoint{},
		&ListSessionsEndpoint{},
		&GetSessionEndpoint{},
		&DeleteSessionEndpoint{},
	}
}

// PageCommands groups page commands under "pages".
func PageCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListPagesEndpoint{},
		&PageImageEndpoint{},
		&RectifyPageEndpoint{},
		&RotatePageEndpoint{},
		&PageBackgroundEndpoint{},
		&UndoPageEndpoint{},
	}
}

// BatchCommands groups batch commands under "batch".
func BatchCommands() []api.Endpoint {
	return []api.Endpoint{
		&StartBatchEndpoint{},
		&BatchStatusEndpoint{},
	}
}

// ExportCommands groups export commands under "export".
func ExportCommands() []api.Endpoint {
	return []api.Endpoint{
		&ExportEndpoint{},
		&DownloadExportEndpoint{},
	}
}

// SettingsCommands groups settings commands under "settings".
func SettingsCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingsEndpoint{},
		&ListDefaultsEndpoint{},
		&CredentialsEndpoint{},
	}
}
