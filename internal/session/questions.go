package session

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var defaultQuestions = []string{
	"请谈谈你对'为人民服务'的理解。",
	"如果你在工作中与领导产生分歧，你会怎么做？",
}

// QuestionBank cycles through a fixed list of questions.
type QuestionBank struct {
	mu        sync.Mutex
	questions []string
	idx       int
}

// NewQuestionBank keeps the non-blank entries of questions, falling back to
// the built-in list when none remain.
func NewQuestionBank(questions []string) *QuestionBank {
	kept := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			kept = append(kept, q)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, defaultQuestions...)
	}
	return &QuestionBank{questions: kept}
}

type questionFile struct {
	Questions []string `yaml:"questions"`
}

// LoadQuestionBank reads a YAML file with a top-level questions list. An
// empty path gives the built-in bank.
func LoadQuestionBank(path string) (*QuestionBank, error) {
	if path == "" {
		return NewQuestionBank(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	var f questionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	return NewQuestionBank(f.Questions), nil
}

// Current returns the question under the cursor.
func (b *QuestionBank) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.questions[b.idx]
}

// Next advances the cursor, wrapping at the end, and returns the new question.
func (b *QuestionBank) Next() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idx = (b.idx + 1) % len(b.questions)
	return b.questions[b.idx]
}

// All returns a copy of the questions.
func (b *QuestionBank) All() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.questions))
	copy(out, b.questions)
	return out
}

// Clone returns an independent bank with the cursor at the start.
func (b *QuestionBank) Clone() *QuestionBank {
	return &QuestionBank{questions: b.All()}
}
