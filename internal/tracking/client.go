package tracking

import (
	"fmt"

	"github.com/databricks/databricks-sdk-go"

	"github.com/codekansas/ml-template/internal/config"
)

// Client mirrors run lifecycle, parameters, and metrics to an MLflow
// tracking server. It supports both Databricks-hosted MLflow and a regular
// tracking server.
type Client struct {
	client   *databricks.WorkspaceClient
	settings *config.Settings
}

func NewClient(settings *config.Settings) (*Client, error) {
	if !settings.TrackingEnabled() {
		return nil, fmt.Errorf("tracking URI is not configured")
	}

	var databricksConfig *databricks.Config

	if settings.IsDatabricks() {
		databricksConfig = &databricks.Config{}

		// Handle different Databricks URI formats
		if settings.TrackingURI == "databricks" {
			if settings.DatabricksHost != "" {
				databricksConfig.Host = settings.DatabricksHost
			}
		} else if profile := settings.DatabricksProfile(); profile != "" {
			databricksConfig.Profile = profile
		} else {
			databricksConfig.Host = settings.TrackingURI
		}

		if settings.DatabricksToken != "" {
			databricksConfig.Token = settings.DatabricksToken
		}

		if databricksConfig.Host == "" && databricksConfig.Profile == "" {
			return nil, fmt.Errorf("Databricks host or profile is required when tracking to Databricks MLflow")
		}
	} else {
		databricksConfig = &databricks.Config{
			Host: settings.TrackingURI,
			// For regular MLflow server, use a dummy token to bypass authentication
			Token: "dummy-token-for-regular-mlflow",
		}
	}

	client, err := databricks.NewWorkspaceClient(databricksConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking client: %w", err)
	}

	return &Client{
		client:   client,
		settings: settings,
	}, nil
}
