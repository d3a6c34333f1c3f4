package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"armouriq/armour/pkg/questionnaire"
)

// promptAnswers asks each question on out and reads one line per answer
// from in.
type promptAnswers struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptAnswers(in io.Reader, out io.Writer) *promptAnswers {
	return &promptAnswers{in: bufio.NewReader(in), out: out}
}

func (p *promptAnswers) Answers(ctx context.Context, executionID string, questions []questionnaire.Question) ([]questionnaire.Answer, error) {
	answers := make([]questionnaire.Answer, 0, len(questions))
	for _, q := range questions {
		if q.Error != "" {
			fmt.Fprintf(p.out, "  (previous answer not understood: %s)\n", q.Error)
		}
		fmt.Fprintf(p.out, "? %s\n", q.QuestionText)
		if q.WhyAsking != "" {
			fmt.Fprintf(p.out, "  %s\n", q.WhyAsking)
		}
		fmt.Fprint(p.out, "> ")

		line, err := p.readLine(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading answer to %s: %w", q.ID, err)
		}
		answers = append(answers, questionnaire.Answer{ID: q.ID, Field: q.Field, Answer: line, Step: q.Step})
	}
	return answers, nil
}

func (p *promptAnswers) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && !(errors.Is(r.err, io.EOF) && r.line != "") {
			return "", r.err
		}
		return strings.TrimSpace(r.line), nil
	}
}
