package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the deployment (e.g., "https://orchestrator.example.com").
	// Used for generating absolute task URLs in outbound notifications.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
}
