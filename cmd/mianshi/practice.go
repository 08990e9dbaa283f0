package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/mianshi/internal/audio"
	"github.com/yourorg/mianshi/internal/console"
	"github.com/yourorg/mianshi/internal/session"
)

const practiceHelp = "命令: r 录音  t 重新转写  e <文字> 修改回答  s 评分  n 下一题  d 丢弃  q <题目> 自定义题目  x 退出"

func newPracticeCmd(opts *rootOptions) *cobra.Command {
	var audioFile, ffmpeg string
	var seconds int
	cmd := &cobra.Command{Use: "practice", Short: "Practice interactively in the terminal", RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.settingsStore(opts.client)
		if err != nil {
			return err
		}
		bank, err := session.LoadQuestionBank(a.cfg.Questions.File)
		if err != nil {
			return err
		}
		var rec session.Recorder
		if audioFile != "" {
			rec = audio.FileRecorder{Path: audioFile}
		} else {
			rec = audio.NewFFmpegRecorder(ffmpeg, time.Duration(seconds)*time.Second)
		}

		out := cmd.OutOrStdout()
		flow := session.New(session.Deps{
			Settings:    st,
			History:     a.db,
			Transcriber: a.transcriber(),
			Scorer:      a.scorer(),
			Recorder:    rec,
			Display:     console.NewDisplay(out),
			Bank:        bank,
			Logger:      a.logger,
		}, session.Options{
			DefaultModel:         a.cfg.Scoring.DefaultModel,
			TranscriptionTimeout: a.cfg.Timeouts.Transcription,
			ScoringTimeout:       a.cfg.Timeouts.Scoring,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runPractice(ctx, flow, cmd.InOrStdin(), out)
	}}
	cmd.Flags().StringVar(&audioFile, "audio-file", "", "read the answer from this WAV file instead of the microphone")
	cmd.Flags().StringVar(&ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary used for recording")
	cmd.Flags().IntVar(&seconds, "seconds", 60, "recording length in seconds")
	return cmd
}

// runPractice reads one command per line until x or EOF. Action errors are
// already shown by the display, so they do not end the loop.
func runPractice(ctx context.Context, flow *session.Flow, in io.Reader, out io.Writer) error {
	flow.SelectQuestion(flow.Bank().Current())
	fmt.Fprintln(out, practiceHelp)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch verb {
		case "":
			continue
		case "r":
			fmt.Fprintln(out, "录音中…")
			_, err = flow.Capture(ctx)
		case "t":
			_, err = flow.Retranscribe(ctx)
		case "e":
			_, err = flow.EditAnswer(rest)
		case "s":
			fmt.Fprintln(out, "评分中…")
			_, err = flow.Score(ctx)
		case "n":
			flow.Next()
		case "d":
			flow.Discard()
		case "q":
			flow.SelectQuestion(rest)
		case "x", "exit", "quit":
			return nil
		default:
			fmt.Fprintln(out, practiceHelp)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
	}
}
