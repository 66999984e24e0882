/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package rules manages the natural-language check rules applied to
// invoices: a flat JSON store with file locking, seeded with a default
// rule set on first use.
package rules

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

// Store provides rule CRUD backed by a flat JSON file
type Store struct {
	filePath string
	logger   *logging.Logger
}

// ruleFile is the on-disk document
type ruleFile struct {
	Rules     []global.Rule `json:"rules"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ListResult represents the response for rule list operations
type ListResult struct {
	Rules []global.Rule `json:"rules"`
	Total int           `json:"total"`
}

// NewStore creates a rule store backed by filePath
func NewStore(filePath string, logger *logging.Logger) *Store {
	return &Store{
		filePath: filePath,
		logger:   logger,
	}
}

// withLock executes a function with file-level locking
func (s *Store) withLock(fn func() error) error {
	// Ensure directory exists
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	lock := flock.New(s.filePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// load reads the rule file, seeding defaults on first use
func (s *Store) load() (*ruleFile, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			rf := &ruleFile{Rules: defaultRules(), UpdatedAt: time.Now()}
			if err := s.save(rf); err != nil {
				return nil, fmt.Errorf("failed to seed default rules: %w", err)
			}
			s.logger.Infof("Seeded %d default rule(s) at %s", len(rf.Rules), s.filePath)
			return rf, nil
		}
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rf ruleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if rf.Rules == nil {
		rf.Rules = []global.Rule{}
	}

	return &rf, nil
}

// save writes the rule file atomically
func (s *Store) save(rf *ruleFile) error {
	if rf.Rules == nil {
		rf.Rules = []global.Rule{}
	}

	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	return global.AtomicWrite(s.filePath, data)
}

// List returns all rules sorted by creation time
func (s *Store) List() (*ListResult, error) {
	var rules []global.Rule
	err := s.withLock(func() error {
		rf, err := s.load()
		if err != nil {
			return err
		}
		rules = rf.Rules
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})

	return &ListResult{Rules: rules, Total: len(rules)}, nil
}

// Get retrieves a rule by id
func (s *Store) Get(id string) (*global.Rule, error) {
	var rule *global.Rule
	err := s.withLock(func() error {
		rf, err := s.load()
		if err != nil {
			return err
		}
		_, found := findRule(rf.Rules, id)
		if found == nil {
			return fmt.Errorf("rule not found: %s", id)
		}
		rule = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Create validates and stores a new rule
func (s *Store) Create(name, category, prompt, severity string) (*global.Rule, error) {
	now := time.Now()
	rule := global.Rule{
		ID:        uuid.New().String(),
		Name:      name,
		Category:  category,
		Prompt:    prompt,
		Severity:  severity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	err := s.withLock(func() error {
		rf, err := s.load()
		if err != nil {
			return err
		}

		for _, existing := range rf.Rules {
			if strings.EqualFold(existing.Name, name) {
				return fmt.Errorf("rule name already exists: %s", name)
			}
		}

		rf.Rules = append(rf.Rules, rule)
		rf.UpdatedAt = now
		return s.save(rf)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Created rule: id=%s name=%s", rule.ID, rule.Name)
	return &rule, nil
}

// Update applies non-nil field updates to a rule
func (s *Store) Update(id string, name, category, prompt, severity *string) (*global.Rule, error) {
	var updated *global.Rule
	err := s.withLock(func() error {
		rf, err := s.load()
		if err != nil {
			return err
		}

		idx, rule := findRule(rf.Rules, id)
		if rule == nil {
			return fmt.Errorf("rule not found: %s", id)
		}

		if name != nil {
			rule.Name = *name
		}
		if category != nil {
			rule.Category = *category
		}
		if prompt != nil {
			rule.Prompt = *prompt
		}
		if severity != nil {
			rule.Severity = *severity
		}
		if err := rule.Validate(); err != nil {
			return err
		}

		rule.UpdatedAt = time.Now()
		rf.Rules[idx] = *rule
		rf.UpdatedAt = rule.UpdatedAt

		if err := s.save(rf); err != nil {
			return err
		}
		updated = rule
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Updated rule: id=%s", id)
	return updated, nil
}

// Delete removes a rule by id
func (s *Store) Delete(id string) error {
	err := s.withLock(func() error {
		rf, err := s.load()
		if err != nil {
			return err
		}

		idx, rule := findRule(rf.Rules, id)
		if rule == nil {
			return fmt.Errorf("rule not found: %s", id)
		}

		rf.Rules = append(rf.Rules[:idx], rf.Rules[idx+1:]...)
		rf.UpdatedAt = time.Now()
		return s.save(rf)
	})
	if err != nil {
		return err
	}

	s.logger.Infof("Deleted rule: id=%s", id)
	return nil
}

// Search returns rules matching a keyword (name or prompt, case-insensitive)
// and/or a category; empty filters match everything
func (s *Store) Search(keyword, category string) (*ListResult, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	keyword = strings.ToLower(keyword)
	matches := []global.Rule{}
	for _, rule := range all.Rules {
		if category != "" && rule.Category != category {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(rule.Name), keyword) &&
			!strings.Contains(strings.ToLower(rule.Prompt), keyword) {
			continue
		}
		matches = append(matches, rule)
	}

	return &ListResult{Rules: matches, Total: len(matches)}, nil
}

// Categories returns the accepted categories with per-category rule counts
func (s *Store) Categories() (map[string]int, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(global.ValidCategories()))
	for _, cat := range global.ValidCategories() {
		counts[cat] = 0
	}
	for _, rule := range all.Rules {
		counts[rule.Category]++
	}
	return counts, nil
}

// Export returns all rules as a portable JSON document
func (s *Store) Export() ([]byte, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(all.Rules, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	return data, nil
}

// Import merges rules from an exported document. Rules failing validation
// are skipped and counted; replace drops the existing rule set first.
// Imported rules receive fresh ids to avoid collisions.
func (s *Store) Import(data []byte, replace bool) (imported, skipped int, err error) {
	var incoming []global.Rule
	if err := json.Unmarshal(data, &incoming); err != nil {
		return 0, 0, fmt.Errorf("failed to parse import document: %w", err)
	}

	err = s.withLock(func() error {
		rf, lerr := s.load()
		if lerr != nil {
			return lerr
		}

		if replace {
			rf.Rules = []global.Rule{}
		}

		now := time.Now()
		for _, rule := range incoming {
			if verr := rule.Validate(); verr != nil {
				s.logger.Warnf("Skipping invalid imported rule %q: %v", rule.Name, verr)
				skipped++
				continue
			}
			rule.ID = uuid.New().String()
			if rule.CreatedAt.IsZero() {
				rule.CreatedAt = now
			}
			rule.UpdatedAt = now
			rf.Rules = append(rf.Rules, rule)
			imported++
		}

		rf.UpdatedAt = now
		return s.save(rf)
	})
	if err != nil {
		return 0, 0, err
	}

	s.logger.Infof("Imported %d rule(s), skipped %d", imported, skipped)
	return imported, skipped, nil
}

// All returns the rules keyed by id, for the checker's rule selection
func (s *Store) All() (map[string]global.Rule, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}
	rules := make(map[string]global.Rule, len(list.Rules))
	for _, rule := range list.Rules {
		rules[rule.ID] = rule
	}
	return rules, nil
}

// findRule finds a rule by id in a slice
func findRule(rules []global.Rule, id string) (int, *global.Rule) {
	for i := range rules {
		if rules[i].ID == id {
			return i, &rules[i]
		}
	}
	return -1, nil
}
