// Package intent classifies free-text chat replies into a small fixed set of intents.
//
// Classification is a pure function of the reply and the keyword tables; it keeps no state.
package intent

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Intent is the classified meaning of a reply.
type Intent string

const (
	// Confirm means the user accepts the order and wants the payment link.
	Confirm Intent = "confirm"
	// Support means the user has a question and wants a human.
	Support Intent = "support"
	// Unrecognized means no rule matched. It is a normal outcome, not an error.
	Unrecognized Intent = "unrecognized"
)

// Menu replies that short-circuit keyword matching.
const (
	MenuConfirm = "1"
	MenuSupport = "2"
)

//go:embed keywords.yaml
var defaultKeywords []byte

var ErrEmptyKeywordSet = errors.New("keyword set cannot be empty")

// Keywords holds the versioned keyword tables. Modify is carried with the data but no rule
// consults it: a modification request is answered like any other unrecognized reply.
type Keywords struct {
	Version  int      `yaml:"version"`
	Confirm  []string `yaml:"confirm"`
	Modify   []string `yaml:"modify"`
	Question []string `yaml:"question"`
	SelfEcho []string `yaml:"self_echo"`
}

// ParseKeywords decodes keyword tables from YAML and normalizes every entry.
func ParseKeywords(data []byte) (Keywords, error) {
	var k Keywords
	if err := yaml.Unmarshal(data, &k); err != nil {
		return Keywords{}, fmt.Errorf("failed to decode keywords: %w", err)
	}
	if len(k.Confirm) == 0 {
		return Keywords{}, fmt.Errorf("%w: confirm", ErrEmptyKeywordSet)
	}
	if len(k.Question) == 0 {
		return Keywords{}, fmt.Errorf("%w: question", ErrEmptyKeywordSet)
	}
	k.Confirm = normalizeAll(k.Confirm)
	k.Modify = normalizeAll(k.Modify)
	k.Question = normalizeAll(k.Question)
	k.SelfEcho = normalizeAll(k.SelfEcho)
	return k, nil
}

// DefaultKeywords returns the keyword tables embedded in the binary.
func DefaultKeywords() Keywords {
	k, err := ParseKeywords(defaultKeywords)
	if err != nil {
		panic(fmt.Sprintf("embedded keywords are invalid: %v", err))
	}
	return k
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Classifier classifies replies against a fixed set of keyword tables.
type Classifier struct {
	keywords Keywords
}

// NewClassifier creates a Classifier over the given tables.
func NewClassifier(k Keywords) *Classifier {
	return &Classifier{keywords: k}
}

// Default returns a Classifier over the embedded tables.
func Default() *Classifier {
	return NewClassifier(DefaultKeywords())
}

// Keywords returns the tables the classifier was built with.
func (c *Classifier) Keywords() Keywords {
	return c.keywords
}

// Classify returns the intent of a raw reply.
func (c *Classifier) Classify(text string) Intent {
	msg := Normalize(text)

	switch msg {
	case MenuConfirm:
		return Confirm
	case MenuSupport:
		return Support
	}

	if containsAny(msg, c.keywords.Confirm) {
		return Confirm
	}
	if containsAny(msg, c.keywords.Question) {
		return Support
	}
	slog.Debug("Classifier.Classify: no keyword matched", "length", len(msg))
	return Unrecognized
}

// IsSelfEcho reports whether text contains a fragment of one of the bot's own messages.
func (c *Classifier) IsSelfEcho(text string) bool {
	return containsAny(Normalize(text), c.keywords.SelfEcho)
}

func containsAny(msg string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(msg, k) {
			return true
		}
	}
	return false
}
