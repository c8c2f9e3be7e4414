// Package registry maps (type, subtype) node kinds to their definitions:
// config schema, defaults, and handler construction. The registry is
// assembled once at process start and read-only afterwards.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownNodeKind reports an unregistered (type, subtype) pair. It
// blocks activation of the node that references it, not the process.
type ErrUnknownNodeKind struct {
	Kind models.NodeKind
}

func (e *ErrUnknownNodeKind) Error() string {
	return fmt.Sprintf("node kind '%s' not registered", e.Kind)
}

// IsUnknownNodeKind checks if an error is an ErrUnknownNodeKind.
func IsUnknownNodeKind(err error) bool {
	var unknownErr *ErrUnknownNodeKind

	return errors.As(err, &unknownErr)
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var configErr *ConfigError

	return errors.As(err, &configErr)
}

// ConfigError reports a node configuration that failed schema validation.
type ConfigError struct {
	Kind   models.NodeKind
	Issues []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config for node kind '%s': %s", e.Kind, strings.Join(e.Issues, "; "))
}

type Registry struct {
	logger      *slog.Logger
	definitions map[models.NodeKind]protocol.NodeDefinition
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:      log,
		definitions: make(map[models.NodeKind]protocol.NodeDefinition),
	}
}

// Register adds a node definition. Registering the same kind twice is a
// wiring bug, so it fails rather than silently replacing.
func (r *Registry) Register(def protocol.NodeDefinition) error {
	kind := def.Kind()
	if _, exists := r.definitions[kind]; exists {
		return fmt.Errorf("node kind '%s' already registered", kind)
	}

	r.definitions[kind] = def
	r.logger.Debug("Registered node kind", "kind", kind.String())

	return nil
}

// MustRegister is Register for process assembly, where a duplicate kind
// is unrecoverable.
func (r *Registry) MustRegister(def protocol.NodeDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Definition returns the definition for a kind.
func (r *Registry) Definition(kind models.NodeKind) (protocol.NodeDefinition, error) {
	def, ok := r.definitions[kind]
	if !ok {
		return nil, &ErrUnknownNodeKind{Kind: kind}
	}

	return def, nil
}

// DefaultConfig returns the canonical default configuration for a kind,
// used to populate new nodes.
func (r *Registry) DefaultConfig(kind models.NodeKind) (map[string]any, error) {
	def, err := r.Definition(kind)
	if err != nil {
		return nil, err
	}

	return def.DefaultConfig(), nil
}

// ValidateConfig checks a node config against the kind's JSON schema.
func (r *Registry) ValidateConfig(kind models.NodeKind, config map[string]any) error {
	def, err := r.Definition(kind)
	if err != nil {
		return err
	}

	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(def.Schema())
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation for node kind '%s': %w", kind, err)
	}

	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}

		return &ConfigError{Kind: kind, Issues: issues}
	}

	return nil
}

// Handler builds an executable handler for a node's configuration.
func (r *Registry) Handler(kind models.NodeKind, config map[string]any) (protocol.NodeHandler, error) {
	def, err := r.Definition(kind)
	if err != nil {
		return nil, err
	}

	return def.Handler(config)
}

// Kinds returns all registered kinds sorted by type then subtype.
func (r *Registry) Kinds() []models.NodeKind {
	kinds := make([]models.NodeKind, 0, len(r.definitions))
	for kind := range r.definitions {
		kinds = append(kinds, kind)
	}

	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Type != kinds[j].Type {
			return kinds[i].Type < kinds[j].Type
		}

		return kinds[i].Subtype < kinds[j].Subtype
	})

	return kinds
}
