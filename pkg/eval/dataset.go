package eval

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/visroute/pkg/capability"
)

// ErrMalformedItem marks a dataset entry that cannot be routed.
var ErrMalformedItem = errors.New("malformed dataset item")

// MalformedItemError describes why entry Index was rejected.
type MalformedItemError struct {
	Index  int
	Reason string
	Err    error
}

func (e *MalformedItemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("item %d: %s: %v", e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

func (e *MalformedItemError) Unwrap() error { return e.Err }

// Is matches ErrMalformedItem.
func (e *MalformedItemError) Is(target error) bool {
	return target == ErrMalformedItem
}

// Entry is a dataset entry as loaded, before validation.
// References may be nil, a string, []string or []any of scalars.
type Entry struct {
	Image      *capability.Image
	Query      string
	References any
	// Err is set when the entry could not be read at all.
	Err error
}

// Item is a validated entry ready for routing.
type Item struct {
	Index      int
	Image      capability.Image
	Query      string
	References []string
}

// Normalize validates entry index and converts it to an Item.
func Normalize(index int, e Entry) (Item, error) {
	if e.Err != nil {
		return Item{}, &MalformedItemError{Index: index, Reason: "unreadable entry", Err: e.Err}
	}
	if strings.TrimSpace(e.Query) == "" {
		return Item{}, &MalformedItemError{Index: index, Reason: "missing query"}
	}
	if e.Image == nil || len(e.Image.Data) == 0 {
		return Item{}, &MalformedItemError{Index: index, Reason: "missing image"}
	}
	refs, err := references(e.References)
	if err != nil {
		return Item{}, &MalformedItemError{Index: index, Reason: "invalid reference answers", Err: err}
	}
	if len(refs) == 0 {
		return Item{}, &MalformedItemError{Index: index, Reason: "missing reference answers"}
	}
	return Item{Index: index, Image: *e.Image, Query: e.Query, References: refs}, nil
}

func references(v any) ([]string, error) {
	switch refs := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{refs}, nil
	case []string:
		return append([]string(nil), refs...), nil
	case []any:
		out := make([]string, 0, len(refs))
		for i, r := range refs {
			switch s := r.(type) {
			case string:
				out = append(out, s)
			case int, int64, float64, bool:
				out = append(out, fmt.Sprint(s))
			default:
				return nil, fmt.Errorf("answer %d is %T, not a string", i, r)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("answers are %T, not a sequence of strings", v)
	}
}

type datasetEntry struct {
	Image    string    `yaml:"image"`
	Query    string    `yaml:"query"`
	Question string    `yaml:"question"`
	Answers  yaml.Node `yaml:"answers"`
}

// LoadDataset reads a YAML (or JSON) dataset: a sequence of mappings with
// image, query (or question) and answers. Image paths are relative to the dataset file.
// Problems with a single entry are recorded in Entry.Err; only an unreadable
// or structurally invalid file is an error.
func LoadDataset(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("dataset %s: top level must be a sequence", path)
	}

	baseDir := filepath.Dir(path)
	entries := make([]Entry, 0, len(root.Content))
	for _, node := range root.Content {
		entries = append(entries, loadEntry(node, baseDir))
	}
	return entries, nil
}

func loadEntry(node *yaml.Node, baseDir string) Entry {
	if node.Kind != yaml.MappingNode {
		return Entry{Err: fmt.Errorf("line %d: entry is not a mapping", node.Line)}
	}
	var raw datasetEntry
	if err := node.Decode(&raw); err != nil {
		return Entry{Err: fmt.Errorf("line %d: %w", node.Line, err)}
	}

	e := Entry{Query: raw.Query}
	if e.Query == "" {
		e.Query = raw.Question
	}
	if !raw.Answers.IsZero() {
		var refs any
		if err := raw.Answers.Decode(&refs); err != nil {
			e.Err = fmt.Errorf("line %d: answers: %w", raw.Answers.Line, err)
			return e
		}
		e.References = refs
	}
	if raw.Image != "" {
		imgPath := raw.Image
		if !filepath.IsAbs(imgPath) {
			imgPath = filepath.Join(baseDir, imgPath)
		}
		img, err := capability.LoadImage(imgPath)
		if err != nil {
			e.Err = fmt.Errorf("line %d: image: %w", node.Line, err)
			return e
		}
		e.Image = &img
	}
	return e
}
