// Package console renders practice state and history to a terminal.
package console

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yourorg/mianshi/internal/session"
	"github.com/yourorg/mianshi/pkg/types"
)

const timeLayout = "2006-01-02 15:04"

var phaseLabels = map[session.Phase]string{
	session.PhaseIdle:             "未选择题目",
	session.PhaseQuestionSelected: "等待录音",
	session.PhaseRecorded:         "正在转写",
	session.PhaseTranscribed:      "可编辑回答",
	session.PhaseScored:           "已评分",
}

// Display implements session.Display on an io.Writer. Only the parts of a
// snapshot that changed since the previous render are printed.
type Display struct {
	mu   sync.Mutex
	w    io.Writer
	last session.Snapshot
}

func NewDisplay(w io.Writer) *Display {
	return &Display{w: w}
}

func (d *Display) Render(s session.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := &strings.Builder{}
	if s.Phase != d.last.Phase {
		fmt.Fprintln(b, phaseStyle.Render("["+phaseLabels[s.Phase]+"]"))
	}
	if s.Question != d.last.Question && s.Question != "" {
		fmt.Fprintf(b, "%s %s\n", titleStyle.Render("题目："), s.Question)
	}
	if s.Phase == session.PhaseRecorded && d.last.Phase != session.PhaseRecorded {
		fmt.Fprintln(b, dimStyle.Render(fmt.Sprintf("已收到录音 (%d 字节)", s.AudioBytes)))
	}
	if s.Transcript != d.last.Transcript && s.Transcript != "" {
		style := labelStyle
		if s.TranscriptFailed {
			style = failedStyle
		}
		fmt.Fprintf(b, "%s %s\n", labelStyle.Render("识别结果："), style.Render(s.Transcript))
	}
	if s.CorrectedAnswer != d.last.CorrectedAnswer && s.CorrectedAnswer != s.Transcript {
		fmt.Fprintf(b, "%s %s\n", labelStyle.Render("修改后回答："), s.CorrectedAnswer)
	}
	if s.Result != d.last.Result && s.Result != "" {
		fmt.Fprintln(b, resultStyle.Render(s.Result))
		if s.RecordID > 0 {
			fmt.Fprintln(b, okStyle.Render(fmt.Sprintf("已保存到历史记录 #%d", s.RecordID)))
		} else {
			fmt.Fprintln(b, failedStyle.Render("评分结果未保存到历史记录"))
		}
	}
	d.last = s
	_, _ = io.WriteString(d.w, b.String())
}

func (d *Display) Error(err error) {
	if err == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.w, "%s %s\n", errorStyle.Render("错误："), err)
	if hint := Hint(err); hint != "" {
		fmt.Fprintln(d.w, hintStyle.Render(hint))
	}
}

// Hint suggests a next step for well-known error kinds.
func Hint(err error) string {
	switch {
	case errors.Is(err, types.ErrConfiguration):
		return "请先运行 mianshi settings set 配置 API 密钥。"
	case errors.Is(err, types.ErrTemplate):
		return "模板必须包含 {question} 和 {answer}。"
	case errors.Is(err, session.ErrEmptyAnswer):
		return "回答为空，请先录音或输入回答。"
	default:
		return ""
	}
}

// PrintHistory writes one line per record.
func PrintHistory(w io.Writer, records []types.PracticeRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, dimStyle.Render("暂无练习记录。"))
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s  %s  %s\n",
			titleStyle.Render(fmt.Sprintf("#%d", r.ID)),
			dimStyle.Render(r.CreatedAt.Local().Format(timeLayout)),
			truncate(r.Question, 40))
	}
}

// PrintRecord writes the full detail of one record.
func PrintRecord(w io.Writer, r types.PracticeRecord) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(fmt.Sprintf("#%d", r.ID)), dimStyle.Render(r.CreatedAt.Local().Format(timeLayout)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("题目："), r.Question)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("回答："), r.Answer)
	fmt.Fprintln(w, resultStyle.Render(r.Result))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
