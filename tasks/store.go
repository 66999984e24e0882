/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package tasks manages accounting-task configurations: the built-in task
// definitions plus user-created custom tasks persisted in a flat JSON file
// with file locking.
package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Store provides task-config lookup and custom task creation
type Store struct {
	filePath string
	logger   *logging.Logger
	builtins map[string]global.TaskConfig
}

// taskFile is the on-disk document holding custom tasks only
type taskFile struct {
	Tasks     []global.TaskConfig `json:"tasks"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ListResult represents the response for task list operations
type ListResult struct {
	Tasks []global.TaskConfig `json:"tasks"`
	Total int                 `json:"total"`
}

// NewStore creates a task store backed by filePath
func NewStore(filePath string, logger *logging.Logger) *Store {
	builtins := make(map[string]global.TaskConfig)
	for _, task := range builtinTasks() {
		builtins[task.ID] = task
	}

	return &Store{
		filePath: filePath,
		logger:   logger,
		builtins: builtins,
	}
}

// withLock executes a function with file-level locking
func (s *Store) withLock(fn func() error) error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tasks directory: %w", err)
	}

	lock := flock.New(s.filePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// load reads the custom task file, validating each task's schema. Tasks
// failing validation are skipped with a warning rather than poisoning the
// whole store.
func (s *Store) load() (*taskFile, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &taskFile{Tasks: []global.TaskConfig{}}, nil
		}
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}

	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file: %w", err)
	}

	valid := make([]global.TaskConfig, 0, len(tf.Tasks))
	for _, task := range tf.Tasks {
		if err := task.OutputSchema.Validate(); err != nil {
			s.logger.Warnf("Skipping task %s with invalid schema: %v", task.ID, err)
			continue
		}
		valid = append(valid, task)
	}
	tf.Tasks = valid

	return &tf, nil
}

// save writes the custom task file atomically
func (s *Store) save(tf *taskFile) error {
	if tf.Tasks == nil {
		tf.Tasks = []global.TaskConfig{}
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	return global.AtomicWrite(s.filePath, data)
}

// List returns built-in tasks followed by custom tasks
func (s *Store) List() (*ListResult, error) {
	tasks := builtinTasks()

	err := s.withLock(func() error {
		tf, err := s.load()
		if err != nil {
			return err
		}
		custom := tf.Tasks
		sort.Slice(custom, func(i, j int) bool {
			return custom[i].CreatedAt.Before(custom[j].CreatedAt)
		})
		tasks = append(tasks, custom...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ListResult{Tasks: tasks, Total: len(tasks)}, nil
}

// GetTask resolves a task configuration by id, built-ins first
func (s *Store) GetTask(id string) (*global.TaskConfig, error) {
	if task, ok := s.builtins[id]; ok {
		return &task, nil
	}

	var found *global.TaskConfig
	err := s.withLock(func() error {
		tf, err := s.load()
		if err != nil {
			return err
		}
		for i := range tf.Tasks {
			if tf.Tasks[i].ID == id {
				found = &tf.Tasks[i]
				return nil
			}
		}
		return fmt.Errorf("task not found: %s", id)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Create validates and stores a new custom task
func (s *Store) Create(name, description, promptTemplate string, schema global.OutputSchema) (*global.TaskConfig, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("task name cannot be empty")
	}
	if strings.TrimSpace(promptTemplate) == "" {
		return nil, fmt.Errorf("task prompt template cannot be empty")
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output schema: %w", err)
	}

	now := time.Now()
	task := global.TaskConfig{
		ID:             uuid.New().String(),
		Name:           name,
		Description:    description,
		PromptTemplate: promptTemplate,
		OutputSchema:   schema,
		IsCustom:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.withLock(func() error {
		tf, err := s.load()
		if err != nil {
			return err
		}

		for _, existing := range tf.Tasks {
			if strings.EqualFold(existing.Name, name) {
				return fmt.Errorf("task name already exists: %s", name)
			}
		}

		tf.Tasks = append(tf.Tasks, task)
		tf.UpdatedAt = now
		return s.save(tf)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Created custom task: id=%s name=%s", task.ID, task.Name)
	return &task, nil
}
