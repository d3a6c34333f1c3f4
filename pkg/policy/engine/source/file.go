package source

import (
	"context"
	"fmt"
	"log/slog"

	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/policy/engine"
	"armouriq/armour/pkg/policy/parser"
)

// FileSource loads rules from a YAML file or a directory of YAML files.
type FileSource struct {
	path          string
	parser        *parser.Parser
	watcherConfig *FileWatcherConfig
	logger        *slog.Logger
}

// NewFileSource creates a new file-based policy source.
// The path can be either a single file or a directory; in a directory every
// .yaml and .yml file is loaded in lexical order.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:          path,
		parser:        parser.NewParser(),
		watcherConfig: DefaultFileWatcherConfig(),
		logger:        logger.With("component", "policy.source"),
	}
}

// WithParser replaces the parser, e.g. to change tree limits.
func (s *FileSource) WithParser(p *parser.Parser) *FileSource {
	s.parser = p
	return s
}

// WithWatcherConfig replaces the watcher configuration. Path is always the
// source path.
func (s *FileSource) WithWatcherConfig(cfg *FileWatcherConfig) *FileSource {
	s.watcherConfig = cfg
	return s
}

// Path returns the configured path.
func (s *FileSource) Path() string {
	return s.path
}

// LoadRuleSet parses every policy file. Any error rejects the whole set.
func (s *FileSource) LoadRuleSet(ctx context.Context) (*ast.RuleSet, error) {
	set, err := s.parser.Parse(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies from %q: %w", s.path, err)
	}

	s.logger.Info("loaded policies from source",
		"path", s.path,
		"version", set.Version,
		"rule_count", len(set.Rules),
	)
	return set, nil
}

// Watch watches the path with fsnotify and sends one debounced event per
// burst of changes. The channel is closed when the context is cancelled.
func (s *FileSource) Watch(ctx context.Context) (<-chan engine.PolicyEvent, error) {
	cfg := *s.watcherConfig
	cfg.Path = s.path

	fw, err := NewFileWatcher(&cfg, s.logger)
	if err != nil {
		return nil, err
	}

	eventCh := make(chan engine.PolicyEvent, 1)
	go func() {
		defer close(eventCh)
		err := fw.Watch(ctx, func(ev engine.PolicyEvent) {
			select {
			case eventCh <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case eventCh <- engine.PolicyEvent{Path: s.path, Error: err}:
			case <-ctx.Done():
			}
		}
		_ = fw.Stop()
	}()

	return eventCh, nil
}
