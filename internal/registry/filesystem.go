package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"ratchet/internal/logging"
	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// taskMetadata is metadata.{json|yaml}'s shape, per spec §6's task-source
// layout: "uuid, name, version, description?, tags?".
type taskMetadata struct {
	UUID        string   `json:"uuid" yaml:"uuid"`
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version" yaml:"version"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

const (
	metadataJSONName = "metadata.json"
	metadataYAMLName = "metadata.yaml"
	mainScriptName   = "main.js"
	inputSchemaName  = "input.schema.json"
	outputSchemaName = "output.schema.json"
)

// FilesystemConfig configures a directory-tree source, per spec §4.5:
// "watch-patterns and ignore-patterns are glob lists," and spec §6's
// task-directory layout: one directory per task, containing
// metadata.{json|yaml}, main.js, and the two optional schema files.
type FilesystemConfig struct {
	Root           string
	WatchPatterns  []string
	IgnorePatterns []string
	DebounceWindow time.Duration

	// StrictValidation rejects a task directory missing either schema
	// file instead of tolerating it, per spec §6: "Missing schemas are
	// tolerated unless strict_validation is set."
	StrictValidation bool
}

func (c *FilesystemConfig) setDefaults() {
	if len(c.WatchPatterns) == 0 {
		c.WatchPatterns = []string{"**/" + metadataJSONName, "**/" + metadataYAMLName}
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 200 * time.Millisecond
	}
}

// FilesystemSource discovers TaskDefinitions from a directory tree, one
// task directory bundle at a time.
type FilesystemSource struct {
	cfg    FilesystemConfig
	logger *logging.ComponentLogger

	mu    sync.RWMutex
	names map[string]string // task name -> absolute task directory

	watcher  *fsnotify.Watcher
	onChange chan struct{}
	done     chan struct{}
}

// NewFilesystemSource constructs a FilesystemSource rooted at cfg.Root.
func NewFilesystemSource(cfg FilesystemConfig) *FilesystemSource {
	cfg.setDefaults()
	return &FilesystemSource{
		cfg:      cfg,
		logger:   logging.NewComponentLogger("registry.filesystem"),
		names:    make(map[string]string),
		onChange: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (s *FilesystemSource) Origin() string { return "filesystem" }

func (s *FilesystemSource) matches(relPath string) bool {
	matched := false
	for _, pat := range s.cfg.WatchPatterns {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, pat := range s.cfg.IgnorePatterns {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return false
		}
	}
	return true
}

// Discover walks cfg.Root and returns Metadata for every task directory
// carrying a metadata.json or metadata.yaml matched by the watch patterns
// and not excluded by the ignore patterns.
func (s *FilesystemSource) Discover(ctx context.Context) ([]Metadata, error) {
	var out []Metadata
	names := make(map[string]string)

	err := filepath.WalkDir(s.cfg.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.cfg.Root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if !s.matches(rel) {
			return nil
		}

		taskDir := filepath.Dir(path)
		meta, parseErr := loadTaskMetadata(path)
		if parseErr != nil {
			s.logger.Warn("skipping unparsable task metadata %s: %v", path, parseErr)
			return nil
		}
		names[meta.Name] = taskDir
		out = append(out, Metadata{Name: meta.Name, Version: meta.Version, SourceOrigin: "filesystem", SourcePath: taskDir})
		return nil
	})
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.IoKind, err, "walking filesystem task root "+s.cfg.Root)
	}

	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
	return out, nil
}

func (s *FilesystemSource) Load(ctx context.Context, name string) (task.TaskDefinition, error) {
	s.mu.RLock()
	dir, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return task.TaskDefinition{}, taxonomy.New(taxonomy.TaskNotFound, "no filesystem task named "+name)
	}
	return loadTaskDir(dir, s.cfg.StrictValidation)
}

func (s *FilesystemSource) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.cfg.Root)
	if err != nil {
		return taxonomy.Wrap(taxonomy.IoKind, err, "filesystem task root unreachable")
	}
	if !info.IsDir() {
		return taxonomy.New(taxonomy.ConfigErrorKind, s.cfg.Root+" is not a directory")
	}
	return nil
}

// Watch starts an fsnotify watch on cfg.Root and returns a channel that
// fires (debounced) whenever a matching file changes, grounded on the
// teacher's watcher.Start/loop debounce-timer idiom.
func (s *FilesystemSource) Watch() (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.IoKind, err, "creating filesystem watcher")
	}
	if err := filepath.WalkDir(s.cfg.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	}); err != nil {
		w.Close()
		return nil, taxonomy.Wrap(taxonomy.IoKind, err, "watching filesystem task root")
	}
	s.watcher = w
	go s.watchLoop()
	return s.onChange, nil
}

func (s *FilesystemSource) watchLoop() {
	var timer *time.Timer
	var pending bool
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(s.cfg.Root, ev.Name)
			if err != nil || !s.matches(filepath.ToSlash(rel)) {
				continue
			}
			pending = true
			if timer == nil {
				timer = time.AfterFunc(s.cfg.DebounceWindow, func() {
					if pending {
						select {
						case s.onChange <- struct{}{}:
						default:
						}
						pending = false
					}
				})
			} else {
				timer.Reset(s.cfg.DebounceWindow)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("filesystem watcher error: %v", err)
		case <-s.done:
			return
		}
	}
}

// Stop releases the fsnotify watch started by Watch.
func (s *FilesystemSource) Stop() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// loadTaskMetadata parses the metadata file at path (JSON or YAML,
// distinguished by extension) without touching the script or schemas, used
// by Discover to build the name index cheaply.
func loadTaskMetadata(path string) (taskMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return taskMetadata{}, err
	}
	var meta taskMetadata
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.Unmarshal(raw, &meta)
	} else {
		err = json.Unmarshal(raw, &meta)
	}
	if err != nil {
		return taskMetadata{}, err
	}
	if meta.Name == "" {
		return taskMetadata{}, taxonomy.New(taxonomy.TaskValidationFailed, path+` is missing required field "name"`)
	}
	return meta, nil
}

// metadataPath returns dir's metadata file, preferring metadata.json and
// falling back to metadata.yaml.
func metadataPath(dir string) string {
	p := filepath.Join(dir, metadataJSONName)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(dir, metadataYAMLName)
}

// loadTaskDir reads dir's full task-directory bundle (metadata, main.js,
// and the two optional schema files) into a task.TaskDefinition, per spec
// §6's task source layout.
func loadTaskDir(dir string, strict bool) (task.TaskDefinition, error) {
	metaPath := metadataPath(dir)
	meta, err := loadTaskMetadata(metaPath)
	if err != nil {
		return task.TaskDefinition{}, taxonomy.Wrap(taxonomy.IoKind, err, "loading "+metaPath)
	}

	scriptPath := filepath.Join(dir, mainScriptName)
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return task.TaskDefinition{}, taxonomy.Wrap(taxonomy.IoKind, err, "loading "+scriptPath)
	}

	inputSchema, err := loadOptionalSchema(filepath.Join(dir, inputSchemaName), strict)
	if err != nil {
		return task.TaskDefinition{}, err
	}
	outputSchema, err := loadOptionalSchema(filepath.Join(dir, outputSchemaName), strict)
	if err != nil {
		return task.TaskDefinition{}, err
	}

	return task.TaskDefinition{
		UUID:         meta.UUID,
		Name:         meta.Name,
		Version:      meta.Version,
		Script:       string(script),
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
		SourceOrigin: "filesystem",
		SourcePath:   dir,
	}, nil
}

// loadOptionalSchema reads a schema file that spec §6 allows to be absent
// unless strict is set, in which case a missing file is an error.
func loadOptionalSchema(path string, strict bool) (json.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if strict {
				return nil, taxonomy.New(taxonomy.TaskValidationFailed, path+" is required under strict_validation")
			}
			return nil, nil
		}
		return nil, taxonomy.Wrap(taxonomy.IoKind, err, "loading "+path)
	}
	return json.RawMessage(raw), nil
}
