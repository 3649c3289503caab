// Package policy evaluates declarative rules before and after a
// deliberation, classifying violations as log/warn/pause/block (spec §4.8).
// Policy documents are YAML files loaded from one or more search
// directories and can be hot-reloaded via fsnotify.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/quorumlabs/quorum/internal/model"
)

// Engine holds the currently loaded policy documents and evaluates them
// against deliberation inputs and outputs.
type Engine struct {
	mu       sync.RWMutex
	docs     map[string]model.PolicyDocument
	watcher  *fsnotify.Watcher
	logger   *logrus.Entry
}

// NewEngine returns an Engine with no policies loaded.
func NewEngine(logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{docs: make(map[string]model.PolicyDocument), logger: logger}
}

// LoadPolicies reads every *.yaml/*.yml file under searchDirs, in order,
// de-duplicating by policy document name with later files winning.
func (e *Engine) LoadPolicies(searchDirs []string) error {
	loaded := make(map[string]model.PolicyDocument)
	for _, dir := range searchDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("policy: reading directory %s: %w", dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			if strings.HasSuffix(ent.Name(), ".yaml") || strings.HasSuffix(ent.Name(), ".yml") {
				names = append(names, ent.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(dir, name)
			doc, err := loadDocument(path)
			if err != nil {
				return fmt.Errorf("policy: loading %s: %w", path, err)
			}
			loaded[doc.Name] = doc
		}
	}

	e.mu.Lock()
	e.docs = loaded
	e.mu.Unlock()
	return nil
}

func loadDocument(path string) (model.PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.PolicyDocument{}, err
	}
	var doc model.PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.PolicyDocument{}, err
	}
	if doc.Name == "" {
		return model.PolicyDocument{}, fmt.Errorf("policy document in %s is missing a name", path)
	}
	return doc, nil
}

// Watch starts an fsnotify watch over searchDirs and reloads policies on
// any write/create/remove event, logging (not returning) reload errors so
// a transient bad edit doesn't crash the watcher goroutine.
func (e *Engine) Watch(searchDirs []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: creating watcher: %w", err)
	}
	for _, dir := range searchDirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("policy: watching %s: %w", dir, err)
		}
	}
	e.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := e.LoadPolicies(searchDirs); err != nil {
					e.logger.WithError(err).Warn("policy hot-reload failed, keeping previous rules")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				e.logger.WithError(err).Warn("policy watcher error")
			}
		}
	}()
	return nil
}

// Close stops the hot-reload watcher, if any.
func (e *Engine) Close() error {
	if e.watcher == nil {
		return nil
	}
	return e.watcher.Close()
}

// PreCheckInput is the context evaluatePre rules see.
type PreCheckInput struct {
	Input     string
	Providers []string
	Options   map[string]string
}

// PostCheckInput is the context evaluatePost rules see.
type PostCheckInput struct {
	Synthesis model.Synthesis
	Votes     model.VoteResult
	Tags      []string
	Duration  time.Duration
	Options   map[string]string
}

// EvaluatePre runs every min_providers/block_providers/input_match rule
// (the rules meaningful before a deliberation has started) against in.
// policyName scopes evaluation to a single document; empty evaluates all.
func (e *Engine) EvaluatePre(policyName string, in PreCheckInput) []model.PolicyViolation {
	var out []model.PolicyViolation
	for _, doc := range e.activeDocs(policyName) {
		for _, rule := range doc.Rules {
			if v, hit := evaluatePreRule(doc.Name, rule, in); hit {
				out = append(out, v)
			}
		}
	}
	return out
}

// EvaluatePost runs every min_consensus/min_confidence/require_evidence/
// max_duration/require_red_team rule against the completed result.
func (e *Engine) EvaluatePost(policyName string, in PostCheckInput) []model.PolicyViolation {
	var out []model.PolicyViolation
	for _, doc := range e.activeDocs(policyName) {
		for _, rule := range doc.Rules {
			if v, hit := evaluatePostRule(doc.Name, rule, in); hit {
				out = append(out, v)
			}
		}
	}
	return out
}

func (e *Engine) activeDocs(policyName string) []model.PolicyDocument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if policyName != "" {
		if doc, ok := e.docs[policyName]; ok {
			return []model.PolicyDocument{doc}
		}
		return nil
	}
	names := make([]string, 0, len(e.docs))
	for name := range e.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	docs := make([]model.PolicyDocument, 0, len(names))
	for _, name := range names {
		docs = append(docs, e.docs[name])
	}
	return docs
}

func violation(policyName string, rule model.PolicyRule, defaultMsg string) model.PolicyViolation {
	msg := rule.Message
	if msg == "" {
		msg = defaultMsg
	}
	return model.PolicyViolation{PolicyName: policyName, RuleType: rule.Type, Action: rule.Action, Message: msg}
}

func evaluatePreRule(policyName string, rule model.PolicyRule, in PreCheckInput) (model.PolicyViolation, bool) {
	switch rule.Type {
	case model.RuleMinProviders:
		if float64(len(in.Providers)) < rule.Value {
			return violation(policyName, rule, fmt.Sprintf("requires at least %.0f providers, got %d", rule.Value, len(in.Providers))), true
		}
	case model.RuleBlockProviders:
		for _, p := range in.Providers {
			if containsName(rule.Providers, p) {
				return violation(policyName, rule, fmt.Sprintf("provider %q is blocked by policy", p)), true
			}
		}
	case model.RuleInputMatch:
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err == nil && re.MatchString(in.Input) {
				return violation(policyName, rule, fmt.Sprintf("input matched blocked pattern %q", rule.Pattern)), true
			}
		}
	case model.RuleHumanApproval:
		if rule.When == "" || rule.When == "always" {
			return violation(policyName, rule, "human approval required before run"), true
		}
	}
	return model.PolicyViolation{}, false
}

func evaluatePostRule(policyName string, rule model.PolicyRule, in PostCheckInput) (model.PolicyViolation, bool) {
	switch rule.Type {
	case model.RuleMinConsensus:
		if in.Synthesis.ConsensusScore < rule.Value {
			return violation(policyName, rule, fmt.Sprintf("consensus score %.2f below required %.2f", in.Synthesis.ConsensusScore, rule.Value)), true
		}
	case model.RuleMinConfidence:
		if in.Synthesis.ConfidenceScore < rule.Value {
			return violation(policyName, rule, fmt.Sprintf("confidence score %.2f below required %.2f", in.Synthesis.ConfidenceScore, rule.Value)), true
		}
	case model.RuleMaxDuration:
		if in.Duration.Seconds() > rule.Value {
			return violation(policyName, rule, fmt.Sprintf("duration %.0fs exceeded max %.0fs", in.Duration.Seconds(), rule.Value)), true
		}
	case model.RuleRequireEvidence:
		if rule.When != "" && rule.When != "always" {
			break
		}
		if len(in.Synthesis.Contributions) == 0 {
			return violation(policyName, rule, "synthesis carries no evidence contributions"), true
		}
		if rule.Value > 0 && in.Synthesis.EvidenceScore < rule.Value {
			return violation(policyName, rule, fmt.Sprintf("evidence score %.2f below required %.2f", in.Synthesis.EvidenceScore, rule.Value)), true
		}
	case model.RuleRequireRedTeam:
		if rule.When == "" || rule.When == "always" {
			if !containsName(in.Tags, "red-team") {
				return violation(policyName, rule, "red-team pass was not recorded"), true
			}
		}
	case model.RuleHumanApproval:
		if rule.When == "on-controversy" && in.Votes.Controversial {
			return violation(policyName, rule, "controversial result requires human approval"), true
		}
	}
	return model.PolicyViolation{}, false
}

func containsName(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}

// HasBlock reports whether any violation carries the block action.
func HasBlock(violations []model.PolicyViolation) bool {
	for _, v := range violations {
		if v.Action == model.ActionBlock {
			return true
		}
	}
	return false
}

// HasPause reports whether any violation carries the pause action.
func HasPause(violations []model.PolicyViolation) bool {
	for _, v := range violations {
		if v.Action == model.ActionPause {
			return true
		}
	}
	return false
}
