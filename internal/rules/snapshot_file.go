package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const snapshotSchemaURL = "rules_snapshot.schema.json"

const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["banned_words", "context_rules"],
  "properties": {
    "banned_words": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "context_rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["trigger_word"],
        "properties": {
          "trigger_word": {"type": "string", "minLength": 1},
          "allowed_contexts": {"type": "array", "items": {"type": "string"}},
          "disallowed_contexts": {"type": "array", "items": {"type": "string"}},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

// SnapshotDocument is the on-disk recovery copy of banned words and context rules.
type SnapshotDocument struct {
	BannedWords  []string       `json:"banned_words"`
	ContextRules []SnapshotRule `json:"context_rules"`
}

// SnapshotRule is a context rule without store-assigned fields.
type SnapshotRule struct {
	TriggerWord        string   `json:"trigger_word"`
	AllowedContexts    []string `json:"allowed_contexts"`
	DisallowedContexts []string `json:"disallowed_contexts"`
	Description        string   `json:"description"`
}

// DocumentFromSnapshot derives the recovery document for s.
func DocumentFromSnapshot(s *Snapshot) *SnapshotDocument {
	doc := &SnapshotDocument{
		BannedWords:  s.WordList(),
		ContextRules: make([]SnapshotRule, 0, len(s.rules)),
	}
	for _, r := range s.rules {
		doc.ContextRules = append(doc.ContextRules, SnapshotRule{
			TriggerWord:        r.TriggerWord,
			AllowedContexts:    nonNil(r.AllowedContexts),
			DisallowedContexts: nonNil(r.DisallowedContexts),
			Description:        r.Description,
		})
	}
	return doc
}

// Rules converts the document's rules into normalized context rules.
func (d *SnapshotDocument) Rules() []ContextRule {
	out := make([]ContextRule, 0, len(d.ContextRules))
	for _, r := range d.ContextRules {
		out = append(out, ContextRule{
			TriggerWord:        r.TriggerWord,
			AllowedContexts:    r.AllowedContexts,
			DisallowedContexts: r.DisallowedContexts,
			Description:        r.Description,
		}.Normalize())
	}
	return out
}

// canonical returns a normalized, sorted copy so equal rule sets encode identically.
func (d *SnapshotDocument) canonical() *SnapshotDocument {
	out := &SnapshotDocument{
		BannedWords:  make([]string, 0, len(d.BannedWords)),
		ContextRules: make([]SnapshotRule, 0, len(d.ContextRules)),
	}
	seen := make(map[string]struct{}, len(d.BannedWords))
	for _, w := range d.BannedWords {
		w = NormalizeWord(w)
		if _, dup := seen[w]; w == "" || dup {
			continue
		}
		seen[w] = struct{}{}
		out.BannedWords = append(out.BannedWords, w)
	}
	sort.Strings(out.BannedWords)
	for _, r := range d.Rules() {
		out.ContextRules = append(out.ContextRules, SnapshotRule{
			TriggerWord:        r.TriggerWord,
			AllowedContexts:    nonNil(r.AllowedContexts),
			DisallowedContexts: nonNil(r.DisallowedContexts),
			Description:        r.Description,
		})
	}
	sort.Slice(out.ContextRules, func(i, j int) bool {
		return out.ContextRules[i].TriggerWord < out.ContextRules[j].TriggerWord
	})
	return out
}

func encodeDocument(d *SnapshotDocument) ([]byte, error) {
	b, err := json.MarshalIndent(d.canonical(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// SnapshotFile reads and writes the recovery document at a fixed path.
type SnapshotFile struct {
	path   string
	schema *jsonschema.Schema
}

// NewSnapshotFile prepares a snapshot file at path. The file need not exist yet.
func NewSnapshotFile(path string) (*SnapshotFile, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(snapshotSchema), &schemaDoc); err != nil {
		return nil, fmt.Errorf("NewSnapshotFile: schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(snapshotSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("NewSnapshotFile: schema: %w", err)
	}
	sch, err := c.Compile(snapshotSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("NewSnapshotFile: schema: %w", err)
	}
	return &SnapshotFile{path: path, schema: sch}, nil
}

// Path returns the file location.
func (f *SnapshotFile) Path() string { return f.path }

// Read loads and validates the document. A missing file returns nil, nil.
func (f *SnapshotFile) Read() (*SnapshotDocument, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("SnapshotFile.Read: %w", err)
	}

	var inst any
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("SnapshotFile.Read: %s: %w", f.path, err)
	}
	if err := f.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("SnapshotFile.Read: %s does not match schema: %w", f.path, err)
	}

	var doc SnapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("SnapshotFile.Read: %s: %w", f.path, err)
	}
	return doc.canonical(), nil
}

// Write replaces the file with the canonical encoding of doc through a
// temp file and rename. It reports false without touching the file when
// the content is already identical.
func (f *SnapshotFile) Write(doc *SnapshotDocument) (bool, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return false, fmt.Errorf("SnapshotFile.Write: %w", err)
	}
	if existing, err := os.ReadFile(f.path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("SnapshotFile.Write: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".rules_snapshot-*.json")
	if err != nil {
		return false, fmt.Errorf("SnapshotFile.Write: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("SnapshotFile.Write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("SnapshotFile.Write: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return false, fmt.Errorf("SnapshotFile.Write: %w", err)
	}
	return true, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
