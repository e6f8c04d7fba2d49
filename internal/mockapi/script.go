package mockapi

import (
	"fmt"
	"strings"

	"github.com/ashureev/gymchat/internal/domain"
)

var greetings = []string{"hi", "hello", "hey", "yo", "good morning", "good evening", "sup"}

var fitnessTerms = []string{
	"workout", "train", "exercise", "run", "5k", "10k", "marathon", "lift", "squat",
	"deadlift", "bench", "cardio", "stretch", "protein", "diet", "calorie", "muscle",
	"rep", "set", "gym", "yoga", "mobility", "recovery", "sleep", "pace", "plan",
	"weight", "strength", "endurance", "hiit", "warm", "injury", "sore",
}

// Classify screens input the way the hosted backend would, by keyword.
func Classify(input string, benefitOfDoubt bool) domain.ScreeningType {
	text := strings.ToLower(strings.TrimSpace(input))
	for _, g := range greetings {
		if text == g || strings.HasPrefix(text, g+" ") || strings.HasPrefix(text, g+",") || strings.HasPrefix(text, g+"!") {
			return domain.ScreeningGreeting
		}
	}
	for _, term := range fitnessTerms {
		if strings.Contains(text, term) {
			return domain.ScreeningOnTopic
		}
	}
	if benefitOfDoubt && strings.HasSuffix(text, "?") {
		return domain.ScreeningOnTopic
	}
	return domain.ScreeningOffTopic
}

// Reply produces a canned answer for input.
func Reply(personality domain.Personality, input string, history []domain.ChatMessage) string {
	if Classify(input, false) == domain.ScreeningGreeting && !domain.HasAssistantMessage(history) {
		return fmt.Sprintf("Hey! I'm %s. Tell me what you're training for and I'll help you build a plan.", personality)
	}
	topic := strings.TrimRight(strings.TrimSpace(input), "?!.")
	return fmt.Sprintf("Good question about **%s**. Here's a simple plan:\n\n"+
		"1. Warm up for 10 minutes.\n"+
		"2. Do the main work at a pace you can hold.\n"+
		"3. Cool down and stretch.\n\n"+
		"Keep it consistent for three weeks and check in with me.", topic)
}

// Chunk splits text into pieces of at most size words, keeping the spaces so
// the pieces concatenate back to text.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = 3
	}
	var (
		chunks []string
		b      strings.Builder
		words  int
	)
	for i, r := range text {
		b.WriteRune(r)
		if r == ' ' && i+1 < len(text) && text[i+1] != ' ' {
			words++
			if words == size {
				chunks = append(chunks, b.String())
				b.Reset()
				words = 0
			}
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// Summarize condenses messages into at most wordCount words.
func Summarize(messages []domain.ChatMessage, wordCount int) string {
	var topics []string
	for _, m := range messages {
		if m.IsUser() {
			topics = append(topics, strings.TrimSpace(m.Content))
		}
	}
	summary := fmt.Sprintf("Earlier we covered %d messages. You asked about: %s.", len(messages), strings.Join(topics, "; "))
	words := strings.Fields(summary)
	if wordCount > 0 && len(words) > wordCount {
		words = words[:wordCount]
	}
	return strings.Join(words, " ")
}
