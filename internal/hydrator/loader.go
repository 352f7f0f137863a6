package hydrator

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/authz-engine/rbac-core/internal/policy"
	"github.com/authz-engine/rbac-core/pkg/types"
)

// Document is the layout of a role fixture file:
//
//	roles:
//	  - id: 2
//	    name: member
//	    permissions: [post:create]
//	    policies:
//	      - id: 20
//	        effect: allow
//	        permission: user:update
//	        condition: {type: eq, left: {type: user_attr, key: id}, right: {type: resource_attr, key: id}}
type Document struct {
	Roles []types.Role `yaml:"roles" json:"roles"`
}

// Loader loads and validates role fixture files from disk
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a new fixture loader
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Loader{logger: logger}
}

// LoadDirectory loads all fixture files from a directory. Files that fail to
// parse are logged and skipped; a role id defined in two files is an error.
func (l *Loader) LoadDirectory(path string) ([]types.Role, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var roles []types.Role
	origin := make(map[int64]string)

	for _, entry := range entries {
		if entry.IsDir() || !isFixture(entry.Name()) {
			continue
		}

		filePath := filepath.Join(path, entry.Name())
		loaded, err := l.LoadFile(filePath)
		if err != nil {
			l.logger.Warn("Failed to load role file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}

		for _, role := range loaded {
			if prev, dup := origin[role.ID]; dup {
				return nil, fmt.Errorf("%w: role %d defined in both %s and %s",
					policy.ErrInvalidRole, role.ID, prev, filePath)
			}
			origin[role.ID] = filePath
		}
		roles = append(roles, loaded...)
	}

	return roles, nil
}

// Load reads path as a single file or, when it is a directory, every fixture in it
func (l *Loader) Load(path string) ([]types.Role, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return l.LoadDirectory(path)
	}
	return l.LoadFile(path)
}

// LoadFile loads a single fixture file. JSON is accepted as a YAML subset.
func (l *Loader) LoadFile(filePath string) ([]types.Role, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(filePath), err)
	}

	validator := policy.NewValidator()
	for i := range doc.Roles {
		role := &doc.Roles[i]
		for j := range role.Policies {
			if role.Policies[j].RoleID == 0 {
				role.Policies[j].RoleID = role.ID
			}
		}

		if err := validator.ValidateRole(role); err != nil {
			return nil, fmt.Errorf("role at index %d: %w", i, err)
		}

		for _, warning := range policy.UnreachablePolicies(role) {
			l.logger.Warn("Unreachable policy",
				zap.String("file", filePath),
				zap.Int64("role_id", role.ID),
				zap.String("detail", warning),
			)
		}
	}

	return doc.Roles, nil
}

func isFixture(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
