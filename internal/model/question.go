package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Question 一道选择题
type Question struct {
	ID            int     `json:"id" yaml:"id"`
	Question      string  `json:"question" yaml:"question"`
	Options       Options `json:"options" yaml:"options"`
	CorrectAnswer string  `json:"correct_answer" yaml:"correct_answer"`
	Explanation   string  `json:"explanation" yaml:"explanation"`
	Category      string  `json:"category,omitempty" yaml:"category,omitempty"`
	Difficulty    string  `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
}

// QuestionPool is the on-disk shape of the questions file.
type QuestionPool struct {
	Questions []Question `json:"questions" yaml:"questions"`
}

type Option struct {
	Label string
	Text  string
}

// Options keeps the order in which the options appear in the source file; it
// is encoded as a JSON/YAML object keyed by label.
type Options []Option

func (o Options) Get(label string) (string, bool) {
	for _, opt := range o {
		if opt.Label == label {
			return opt.Text, true
		}
	}
	return "", false
}

func (o Options) Labels() []string {
	labels := make([]string, len(o))
	for i, opt := range o {
		labels[i] = opt.Label
	}
	return labels
}

func (o *Options) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("options must be an object of label to text")
	}

	var out Options
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label := tok.(string)

		var text string
		if err := dec.Decode(&text); err != nil {
			return fmt.Errorf("option %s: %w", label, err)
		}
		out = append(out, Option{Label: label, Text: text})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*o = out
	return nil
}

func (o Options) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, opt := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(opt.Label)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(opt.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: options must be a mapping of label to text", value.Line)
	}

	out := make(Options, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var label, text string
		if err := value.Content[i].Decode(&label); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&text); err != nil {
			return fmt.Errorf("option %s: %w", label, err)
		}
		out = append(out, Option{Label: label, Text: text})
	}

	*o = out
	return nil
}

// Validate checks the invariants every question in the pool must hold.
func (q *Question) Validate() error {
	if q.ID <= 0 {
		return fmt.Errorf("question id must be positive, got %d", q.ID)
	}
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("question %d: empty prompt", q.ID)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %d: needs at least 2 options, got %d", q.ID, len(q.Options))
	}

	seen := make(map[string]bool, len(q.Options))
	for _, opt := range q.Options {
		if opt.Label == "" {
			return fmt.Errorf("question %d: empty option label", q.ID)
		}
		if seen[opt.Label] {
			return fmt.Errorf("question %d: duplicate option label %q", q.ID, opt.Label)
		}
		seen[opt.Label] = true
	}

	if !seen[q.CorrectAnswer] {
		return fmt.Errorf("question %d: correct answer %q is not one of %v", q.ID, q.CorrectAnswer, q.Options.Labels())
	}
	return nil
}

// CorrectText returns the text of the correct option.
func (q *Question) CorrectText() string {
	text, _ := q.Options.Get(q.CorrectAnswer)
	return text
}
