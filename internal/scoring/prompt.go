package scoring

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/yourorg/mianshi/pkg/types"
)

const (
	// PlaceholderQuestion and PlaceholderAnswer are the only names a template may reference.
	PlaceholderQuestion = "question"
	PlaceholderAnswer   = "answer"

	startTag = "{"
	endTag   = "}"
)

const systemPrompt = `你是一个专业的公务员面试考官。`

// DefaultTemplate is used when no custom template is saved.
const DefaultTemplate = `你是一位考公面试专家。请评价以下回答：
题目：{question}
回答：{answer}
请给出：1. 维度评分 2. 优缺点分析 3. 改进版范文。`

// BuildSystemPrompt returns the fixed examiner instruction.
func BuildSystemPrompt() string {
	return systemPrompt
}

// SelectTemplate returns tpl, or DefaultTemplate when tpl is blank.
func SelectTemplate(tpl string) string {
	if strings.TrimSpace(tpl) == "" {
		return DefaultTemplate
	}
	return tpl
}

// Fill substitutes {question} and {answer} in tpl. Any other placeholder is an
// ErrTemplate. An opening brace with no closing brace is kept as text.
func Fill(tpl, question, answer string) (string, error) {
	values := map[string]string{
		PlaceholderQuestion: question,
		PlaceholderAnswer:   answer,
	}
	out, err := fasttemplate.ExecuteFuncStringWithErr(tpl, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		v, ok := values[tag]
		if !ok {
			return 0, fmt.Errorf("%w: missing placeholder value %q", types.ErrTemplate, tag)
		}
		return w.Write([]byte(v))
	})
	if err != nil {
		if errors.Is(err, types.ErrTemplate) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", types.ErrTemplate, err)
	}
	return out, nil
}

// ValidateTemplate checks that a template can be saved: it must reference
// both placeholders and nothing else.
func ValidateTemplate(tpl string) error {
	for _, name := range []string{PlaceholderQuestion, PlaceholderAnswer} {
		if !strings.Contains(tpl, startTag+name+endTag) {
			return fmt.Errorf("%w: template must contain {%s}", types.ErrTemplate, name)
		}
	}
	_, err := Fill(tpl, "", "")
	return err
}
