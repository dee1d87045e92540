package env

import (
	"context"
	"os"

	"github.com/BurntSushi/toml"
)

// EnvSource reads TENSORLAKE_API_KEY directly. It carries no
// organization/project scoping: that forwarding only applies to a stored
// personal-access token.
type EnvSource struct{}

func (EnvSource) Resolve(_ context.Context, _ string) (Credential, bool, error) {
	token := os.Getenv("TENSORLAKE_API_KEY")
	if token == "" {
		return Credential{}, false, nil
	}
	return Credential{Token: token}, true, nil
}

// credentialsFile is the TOML shape of the stored PAT file: one entry per
// base URL, each carrying the token plus the org/project ids the
// X-Forwarded-Organization-Id/X-Forwarded-Project-Id headers need.
type credentialsFile struct {
	Entries map[string]credentialsEntry `toml:"credentials"`
}

type credentialsEntry struct {
	Token          string `toml:"token"`
	OrganizationID string `toml:"organization_id"`
	ProjectID      string `toml:"project_id"`
}

// FileSource reads a TOML credentials file keyed by base URL.
type FileSource struct {
	Path string
}

func (f FileSource) Resolve(_ context.Context, baseURL string) (Credential, bool, error) {
	if f.Path == "" {
		return Credential{}, false, nil
	}
	var file credentialsFile
	if _, err := toml.DecodeFile(f.Path, &file); err != nil {
		if os.IsNotExist(err) {
			return Credential{}, false, nil
		}
		return Credential{}, false, err
	}
	entry, ok := file.Entries[baseURL]
	if !ok {
		return Credential{}, false, nil
	}
	return Credential{
		Token:          entry.Token,
		OrganizationID: entry.OrganizationID,
		ProjectID:      entry.ProjectID,
	}, true, nil
}
