// Package env resolves the bearer credential and base URL the remote
// runner uses to reach the scheduler: the URL from TENSORLAKE_API_URL, and
// the credential from an ordered list of Sources in which the first one
// that finds a credential wins.
package env

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultAPIURL is used when TENSORLAKE_API_URL is unset.
const DefaultAPIURL = "https://api.tensorlake.ai"

// Credential is what the remote runner needs to authenticate and scope a
// request: the bearer token, plus the organization/project forwarding
// headers a personal-access token carries.
type Credential struct {
	Token          string
	OrganizationID string
	ProjectID      string
}

// Config is the resolved environment: where to reach the scheduler and
// what credential to present to it.
type Config struct {
	APIURL     string
	Credential Credential
}

// Source resolves a Credential for a given base URL, or reports it has no
// opinion (ok == false) so Resolve can fall through to the next source.
type Source interface {
	Resolve(ctx context.Context, baseURL string) (cred Credential, ok bool, err error)
}

// Resolve assembles a Config from the process environment: TENSORLAKE_API_URL
// (falling back to DefaultAPIURL), and the first source in sources that
// finds a credential for that URL. With no sources given it checks
// DefaultSources(): TENSORLAKE_API_KEY, then the TOML credentials file.
// A caller that wants the AWS Secrets Manager source in the chain
// constructs one explicitly (it needs its own AWS config) and appends it.
func Resolve(ctx context.Context, sources ...Source) (*Config, error) {
	apiURL := os.Getenv("TENSORLAKE_API_URL")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	if len(sources) == 0 {
		sources = DefaultSources()
	}

	for _, s := range sources {
		cred, ok, err := s.Resolve(ctx, apiURL)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Config{APIURL: apiURL, Credential: cred}, nil
		}
	}
	return nil, fmt.Errorf("env: no credential found for %q (checked %d source(s))", apiURL, len(sources))
}

// DefaultSources is EnvSource followed by FileSource at
// DefaultCredentialsPath.
func DefaultSources() []Source {
	return []Source{
		EnvSource{},
		FileSource{Path: DefaultCredentialsPath()},
	}
}

// DefaultCredentialsPath is $TENSORLAKE_CREDENTIALS_FILE if set, otherwise
// ~/.config/tensorlake/credentials.toml.
func DefaultCredentialsPath() string {
	if p := os.Getenv("TENSORLAKE_CREDENTIALS_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tensorlake", "credentials.toml")
}
