package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/mianshi/pkg/types"
)

const (
	MarkdownFile = "history.md"
	YAMLFile     = "history.yaml"
	timeLayout   = "2006-01-02 15:04"
)

// RenderMarkdown writes records to outputDir/history.md, one section per record.
func RenderMarkdown(records []types.PracticeRecord, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	b := &strings.Builder{}
	fmt.Fprintln(b, "# 练习记录")
	if len(records) == 0 {
		fmt.Fprintln(b, "\n暂无记录。")
	}
	for _, r := range records {
		fmt.Fprintf(b, "\n## #%d %s\n\n", r.ID, r.CreatedAt.Local().Format(timeLayout))
		fmt.Fprintf(b, "**题目：** %s\n\n", r.Question)
		fmt.Fprintln(b, "### 回答")
		fmt.Fprintf(b, "%s\n\n", quote(r.Answer))
		fmt.Fprintln(b, "### 评分")
		fmt.Fprintf(b, "%s\n", strings.TrimRight(r.Result, "\n"))
	}
	return os.WriteFile(filepath.Join(outputDir, MarkdownFile), []byte(b.String()), 0o644)
}

func quote(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

type yamlRecord struct {
	ID        int64  `yaml:"id"`
	CreatedAt string `yaml:"created_at"`
	Question  string `yaml:"question"`
	Answer    string `yaml:"answer"`
	Result    string `yaml:"result"`
}

type yamlDoc struct {
	ExportedAt string       `yaml:"exported_at"`
	Count      int          `yaml:"count"`
	Records    []yamlRecord `yaml:"records"`
}

// RenderYAML writes records to outputDir/history.yaml.
func RenderYAML(records []types.PracticeRecord, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	doc := yamlDoc{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Count:      len(records),
		Records:    make([]yamlRecord, 0, len(records)),
	}
	for _, r := range records {
		doc.Records = append(doc.Records, yamlRecord{
			ID:        r.ID,
			CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
			Question:  r.Question,
			Answer:    r.Answer,
			Result:    r.Result,
		})
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, YAMLFile), data, 0o644)
}

// ValidateYAML performs basic validation of an exported history file.
func ValidateYAML(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return []string{err.Error()}
	}
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []string{err.Error()}
	}
	var errs []string
	if doc.Count != len(doc.Records) {
		errs = append(errs, fmt.Sprintf("count %d does not match %d records", doc.Count, len(doc.Records)))
	}
	seen := make(map[int64]struct{}, len(doc.Records))
	for i, r := range doc.Records {
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate id %d", r.ID))
		}
		seen[r.ID] = struct{}{}
		if _, err := time.Parse(time.RFC3339, r.CreatedAt); err != nil {
			errs = append(errs, fmt.Sprintf("record %d: invalid created_at %q", i, r.CreatedAt))
		}
	}
	return errs
}
