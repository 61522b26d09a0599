package service

import (
	"fmt"
	"strings"

	"mcq_bot/internal/model"
)

const (
	DefaultTitle      = "Daily MCQ Challenge"
	defaultCategory   = "General"
	defaultDifficulty = "Medium"
	unknownMarker     = "❓"
	revealMarker      = "✅"
)

// DefaultMarkers 选项对应的表情，用户用表情回应作答
var DefaultMarkers = map[string]string{
	"A": "😀",
	"B": "😁",
	"C": "😂",
	"D": "🤣",
}

// MessageFormatter renders questions into message text. It holds no state
// beyond its configuration; the same input always gives the same bytes.
type MessageFormatter struct {
	Title   string
	Markers map[string]string
}

func NewMessageFormatter() *MessageFormatter {
	return &MessageFormatter{Title: DefaultTitle, Markers: DefaultMarkers}
}

func (f *MessageFormatter) RenderPrompt(q model.Question, slot, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 %s - Question %d/%d\n\n", f.title(), slot, total)
	fmt.Fprintf(&b, "%s\n\n", q.Question)

	for _, opt := range q.Options {
		fmt.Fprintf(&b, "%s) %s %s\n", opt.Label, opt.Text, f.marker(opt.Label, unknownMarker))
	}

	b.WriteString("\nReact with the emoji of your answer!\n")
	b.WriteString("⏰ Answer will be revealed in 5 minutes\n")
	fmt.Fprintf(&b, "📊 Category: %s\n", orDefault(q.Category, defaultCategory))
	fmt.Fprintf(&b, "🎯 Difficulty: %s", orDefault(q.Difficulty, defaultDifficulty))
	return b.String()
}

func (f *MessageFormatter) RenderReveal(q model.Question, slot, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 %s - Answer %d/%d\n\n", f.title(), slot, total)
	fmt.Fprintf(&b, "%s\n\n", q.Question)
	fmt.Fprintf(&b, "✅ Correct Answer: %s) %s %s\n\n", q.CorrectAnswer, q.CorrectText(), f.marker(q.CorrectAnswer, revealMarker))
	fmt.Fprintf(&b, "💡 Explanation: %s\n\n", q.Explanation)
	b.WriteString("📊 Vote results will be available after reactions are counted")
	return b.String()
}

func (f *MessageFormatter) title() string {
	return orDefault(f.Title, DefaultTitle)
}

func (f *MessageFormatter) marker(label, fallback string) string {
	markers := f.Markers
	if markers == nil {
		markers = DefaultMarkers
	}
	if m, ok := markers[label]; ok {
		return m
	}
	return fallback
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
