// Package backtestconfig manages named configuration snapshots on disk.
// Each snapshot is one yaml file in the snapshot directory; the file name
// is the snapshot name. Saving validates first, so the directory only ever
// holds configurations that would be accepted at submission.
package backtestconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
	"gopkg.in/yaml.v3"
)

const snapshotExt = ".yaml"

// Store reads and writes named configuration snapshots under a directory.
type Store struct {
	dir string
}

// NewStore creates a snapshot store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeConfigSaveFailed, "failed to create snapshot directory", err)
	}

	return &Store{dir: dir}, nil
}

// Save validates and writes the configuration under name, overwriting any
// existing snapshot of the same name.
func (s *Store) Save(name string, cfg types.Configuration) error {
	if err := validateName(name); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeConfigSaveFailed, "failed to serialize configuration", err)
	}

	if err := os.WriteFile(s.path(name), data, 0644); err != nil {
		return apperrors.Wrapf(apperrors.ErrCodeConfigSaveFailed, err, "failed to write snapshot %s", name)
	}

	return nil
}

// Load reads the named snapshot.
func (s *Store) Load(name string) (types.Configuration, error) {
	if err := validateName(name); err != nil {
		return types.Configuration{}, err
	}

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return types.Configuration{}, apperrors.Newf(apperrors.ErrCodeConfigNotFound,
				"no snapshot named %s", name)
		}

		return types.Configuration{}, apperrors.Wrapf(apperrors.ErrCodeConfigNotFound, err,
			"failed to read snapshot %s", name)
	}

	var cfg types.Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return types.Configuration{}, apperrors.Wrapf(apperrors.ErrCodeInvalidConfiguration, err,
			"snapshot %s is not valid yaml", name)
	}

	return cfg, nil
}

// List returns the names of all stored snapshots in lexical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeConfigNotFound, "failed to read snapshot directory", err)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}

		names = append(names, strings.TrimSuffix(entry.Name(), snapshotExt))
	}

	sort.Strings(names)

	return names, nil
}

// Delete removes the named snapshot. Deleting a missing snapshot is an error.
func (s *Store) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return apperrors.Newf(apperrors.ErrCodeConfigNotFound, "no snapshot named %s", name)
		}

		return apperrors.Wrapf(apperrors.ErrCodeConfigSaveFailed, err, "failed to delete snapshot %s", name)
	}

	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+snapshotExt)
}

// validateName rejects names that would escape the snapshot directory or
// collide with path syntax.
func validateName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, "/\\") {
		return apperrors.Newf(apperrors.ErrCodeInvalidConfiguration, "invalid snapshot name %q", name)
	}

	return nil
}

// GenerateSchema returns the JSON schema for the configuration document, for
// editors and API clients that build configurations programmatically.
func GenerateSchema() (string, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "decimal.Decimal" {
				return &jsonschema.Schema{
					Type: "string",
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(&types.Configuration{})
	schema.Title = "backtest-configuration"
	schema.Description = "Configuration document for backtest and dry-run tasks"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	data, err := json.Marshal(schema)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeConfigSaveFailed, "failed to serialize schema", err)
	}

	return string(data), nil
}
