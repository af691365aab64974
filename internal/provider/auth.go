package provider

import (
	"fmt"
	"net/http"
	"os"

	"github.com/bradleyfalzon/ghinstallation/v2"
)

// newAppTransport builds an http.RoundTripper that authenticates as a GitHub
// App installation. This is the path for deployments that install diffpilot
// as an App instead of handing it a personal access token; the transport
// mints and refreshes installation tokens on its own.
func newAppTransport(appID, installationID int64, privateKeyPath string) (http.RoundTripper, error) {
	privateKey, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", privateKeyPath, err)
	}

	transport, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}
	return transport, nil
}
