package weave

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FilesystemStorage stores templates as JSON files on the filesystem, one
// file per version.
//
// Directory structure:
//
//	<root>/
//	  <template-name>/
//	    v1.json
//	    v2.json
//	    ...
type FilesystemStorage struct {
	mu     sync.RWMutex
	root   string
	closed bool
}

// Version file naming.
const (
	filesystemVersionPrefix = "v"
	filesystemVersionSuffix = ".json"
)

// FilesystemStorageDriver is the driver for creating FilesystemStorage instances.
type FilesystemStorageDriver struct{}

func init() {
	RegisterStorageDriver(StorageDriverNameFilesystem, &FilesystemStorageDriver{})
}

// Open creates a new FilesystemStorage instance.
// The connection string is the root directory path.
func (d *FilesystemStorageDriver) Open(connectionString string) (TemplateStorage, error) {
	return NewFilesystemStorage(connectionString)
}

// NewFilesystemStorage creates a new filesystem-based template storage.
// The root directory will be created if it doesn't exist.
func NewFilesystemStorage(root string) (*FilesystemStorage, error) {
	if root == "" {
		return nil, &StorageError{Message: ErrMsgInvalidStorageRoot}
	}

	if err := os.MkdirAll(root, FilesystemDirPermissions); err != nil {
		return nil, &StorageError{
			Message: ErrMsgCreateStorageDir,
			Name:    root,
			Cause:   err,
		}
	}

	return &FilesystemStorage{
		root: root,
	}, nil
}

// Get retrieves the latest version of a template by name.
func (s *FilesystemStorage) Get(ctx context.Context, name string) (*StoredTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := validateTemplateNameForFilesystem(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, NewStorageClosedError()
	}

	versions, err := s.listVersionsInternal(name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, NewStorageTemplateNotFoundError(name)
	}

	// Latest version is last (sorted ascending)
	return s.loadTemplate(name, versions[len(versions)-1])
}

// GetVersion retrieves a specific version of a template.
func (s *FilesystemStorage) GetVersion(ctx context.Context, name string, version int) (*StoredTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := validateTemplateNameForFilesystem(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, NewStorageClosedError()
	}

	return s.loadTemplate(name, version)
}

// Save stores a template, creating a new version if one exists.
func (s *FilesystemStorage) Save(ctx context.Context, tmpl *StoredTemplate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := validateTemplateNameForFilesystem(tmpl.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewStorageClosedError()
	}

	templateDir := filepath.Join(s.root, tmpl.Name)
	if err := os.MkdirAll(templateDir, FilesystemDirPermissions); err != nil {
		return &StorageError{Message: ErrMsgCreateStorageDir, Name: templateDir, Cause: err}
	}

	versions, _ := s.listVersionsInternal(tmpl.Name)
	nextVersion := 1
	if len(versions) > 0 {
		nextVersion = versions[len(versions)-1] + 1
	}

	now := time.Now()

	stored := &StoredTemplate{
		ID:            generateTemplateID(),
		Name:          tmpl.Name,
		Source:        tmpl.Source,
		DefaultFilter: tmpl.DefaultFilter,
		Version:       nextVersion,
		Metadata:      copyStringMap(tmpl.Metadata),
		Tags:          copyStringSlice(tmpl.Tags),
		CreatedAt:     now,
		UpdatedAt:     now,
		CreatedBy:     tmpl.CreatedBy,
	}

	filename := s.versionPath(tmpl.Name, nextVersion)
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return &StorageError{Message: ErrMsgMarshalTemplate, Name: tmpl.Name, Cause: err}
	}

	if err := os.WriteFile(filename, data, FilesystemFilePermissions); err != nil {
		return &StorageError{Message: ErrMsgWriteTemplate, Name: filename, Cause: err}
	}

	// Reflect generated values back to the caller
	tmpl.ID = stored.ID
	tmpl.Version = stored.Version
	tmpl.CreatedAt = stored.CreatedAt
	tmpl.UpdatedAt = stored.UpdatedAt

	return nil
}

// Delete removes all versions of a template by name.
func (s *FilesystemStorage) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := validateTemplateNameForFilesystem(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewStorageClosedError()
	}

	templateDir := filepath.Join(s.root, name)
	if _, err := os.Stat(templateDir); os.IsNotExist(err) {
		return NewStorageTemplateNotFoundError(name)
	}

	if err := os.RemoveAll(templateDir); err != nil {
		return &StorageError{Message: ErrMsgDeleteTemplate, Name: name, Cause: err}
	}

	return nil
}

// DeleteVersion removes a specific version of a template.
func (s *FilesystemStorage) DeleteVersion(ctx context.Context, name string, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := validateTemplateNameForFilesystem(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewStorageClosedError()
	}

	filename := s.versionPath(name, version)
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return NewStorageVersionNotFoundError(name, version)
	}

	if err := os.Remove(filename); err != nil {
		return &StorageError{Message: ErrMsgDeleteTemplate, Name: filename, Cause: err}
	}

	// Remove the directory when no versions remain
	templateDir := filepath.Join(s.root, name)
	if remaining, err := s.listVersionsInternal(name); err == nil && len(remaining) == 0 {
		_ = os.RemoveAll(templateDir)
	}

	return nil
}

// List returns templates matching the query.
func (s *FilesystemStorage) List(ctx context.Context, query *TemplateQuery) ([]*StoredTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, NewStorageClosedError()
	}

	if query == nil {
		query = &TemplateQuery{}
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &StorageError{Message: ErrMsgReadStorageDir, Cause: err}
	}

	var results []*StoredTemplate

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !matchesNameQuery(name, query) {
			continue
		}

		versions, err := s.listVersionsInternal(name)
		if err != nil || len(versions) == 0 {
			continue
		}

		if query.IncludeAllVersions {
			for _, version := range versions {
				tmpl, err := s.loadTemplate(name, version)
				if err != nil {
					continue
				}
				if matchesTemplateQuery(tmpl, query) {
					results = append(results, tmpl)
				}
			}
		} else {
			tmpl, err := s.loadTemplate(name, versions[len(versions)-1])
			if err != nil {
				continue
			}
			if matchesTemplateQuery(tmpl, query) {
				results = append(results, tmpl)
			}
		}
	}

	// Sort by name, then version descending
	sort.Slice(results, func(i, j int) bool {
		if results[i].Name != results[j].Name {
			return results[i].Name < results[j].Name
		}
		return results[i].Version > results[j].Version
	})

	if query.Offset > 0 {
		if query.Offset >= len(results) {
			return []*StoredTemplate{}, nil
		}
		results = results[query.Offset:]
	}

	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}

	return results, nil
}

// Exists checks if a template with the given name exists.
func (s *FilesystemStorage) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, NewStorageClosedError()
	}

	templateDir := filepath.Join(s.root, name)
	if _, err := os.Stat(templateDir); os.IsNotExist(err) {
		return false, nil
	}

	versions, _ := s.listVersionsInternal(name)
	return len(versions) > 0, nil
}

// ListVersions returns all version numbers for a template, ascending.
func (s *FilesystemStorage) ListVersions(ctx context.Context, name string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, NewStorageClosedError()
	}

	return s.listVersionsInternal(name)
}

// Close marks the storage as closed.
func (s *FilesystemStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// listVersionsInternal lists version numbers for a template, ascending (no locking).
func (s *FilesystemStorage) listVersionsInternal(name string) ([]int, error) {
	templateDir := filepath.Join(s.root, name)
	entries, err := os.ReadDir(templateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []int{}, nil
		}
		return nil, err
	}

	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := entry.Name()
		if strings.HasPrefix(filename, filesystemVersionPrefix) && strings.HasSuffix(filename, filesystemVersionSuffix) {
			versionStr := filename[len(filesystemVersionPrefix) : len(filename)-len(filesystemVersionSuffix)]
			if version, err := strconv.Atoi(versionStr); err == nil && version > 0 {
				versions = append(versions, version)
			}
		}
	}

	sort.Ints(versions)
	return versions, nil
}

// versionPath returns the file path for one template version.
func (s *FilesystemStorage) versionPath(name string, version int) string {
	return filepath.Join(s.root, name, filesystemVersionPrefix+strconv.Itoa(version)+filesystemVersionSuffix)
}

// loadTemplate loads a template from disk.
func (s *FilesystemStorage) loadTemplate(name string, version int) (*StoredTemplate, error) {
	filename := s.versionPath(name, version)
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewStorageVersionNotFoundError(name, version)
		}
		return nil, &StorageError{Message: ErrMsgReadTemplate, Name: filename, Cause: err}
	}

	var tmpl StoredTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, &StorageError{Message: ErrMsgUnmarshalTemplate, Name: filename, Cause: err}
	}

	return &tmpl, nil
}

// Additional storage error messages
const (
	ErrMsgInvalidStorageRoot    = "invalid storage root path"
	ErrMsgCreateStorageDir      = "failed to create storage directory"
	ErrMsgReadStorageDir        = "failed to read storage directory"
	ErrMsgMarshalTemplate       = "failed to marshal template"
	ErrMsgUnmarshalTemplate     = "failed to unmarshal template"
	ErrMsgWriteTemplate         = "failed to write template file"
	ErrMsgReadTemplate          = "failed to read stored template"
	ErrMsgDeleteTemplate        = "failed to delete template"
	ErrMsgInvalidTemplateName   = "invalid template name"
	ErrMsgPathTraversalDetected = "path traversal detected in template name"
)

// validateTemplateNameForFilesystem validates a template name for filesystem
// safety. Prevents path traversal and invalid filesystem characters.
func validateTemplateNameForFilesystem(name string) error {
	if name == "" {
		return &StorageError{Message: ErrMsgEmptyTemplateName}
	}
	if strings.Contains(name, "..") {
		return &StorageError{Message: ErrMsgPathTraversalDetected, Name: name}
	}
	if strings.ContainsAny(name, "/\\:*?\"<>|") {
		return &StorageError{Message: ErrMsgInvalidTemplateName, Name: name}
	}
	return nil
}
