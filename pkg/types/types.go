package types

import "time"

// PracticeRecord is one persisted question/answer/evaluation triple.
type PracticeRecord struct {
	ID        int64     `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Question  string    `json:"question" yaml:"question"`
	Answer    string    `json:"answer" yaml:"answer"`
	Result    string    `json:"result" yaml:"result"`
}

// Model is one selectable scoring model.
type Model struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}
