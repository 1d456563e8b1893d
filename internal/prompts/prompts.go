// Package prompts provides randomized, template-filled suggestion strings
// for operator-facing notifications.
package prompts

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"heartbeat/pkg/logx"
)

// Categories understood by the library. Unknown categories in a prompts
// file are kept as-is so callers can add their own.
const (
	CategoryChatQuiet     = "chat_quiet"
	CategoryViewerReturn  = "viewer_return"
	CategoryStreamerQuiet = "streamer_quiet"
)

var defaults = map[string][]string{
	CategoryChatQuiet: {
		"What games has everyone been playing lately?",
		"Anyone have plans for the weekend?",
		"What brought you to the stream today?",
		"What's everyone up to?",
		"How's everyone's day going?",
		"Any recommendations for what I should play next?",
		"What are you all watching or playing besides this?",
		"Anyone here trying anything new lately?",
		"What's the last thing that made you laugh?",
		"Hot take time — what's an unpopular opinion you have?",
	},
	CategoryViewerReturn: {
		"Welcome back {username}! (last seen {days_ago} days ago)",
		"{username} is here! They've been to {stream_count} streams",
		"Hey {username}! Good to see you again",
		"{username} just showed up — say hi!",
	},
	CategoryStreamerQuiet: {
		"Chat might be waiting for you — check in!",
		"Good time to engage with chat",
		"Someone might feel ignored — take a peek",
		"Say something! Chat's been active",
	},
}

// Library serves prompt strings. It is stateless apart from its random
// source; safe for use from the engine's single logical thread.
type Library struct {
	prompts map[string][]string
	pick    func(n int) int
}

// New returns a library seeded with the built-in defaults. If path is
// non-empty, prompt lists found in that YAML file replace the defaults for
// their category; a broken file is logged and ignored.
func New(path string, log logx.Logger) *Library {
	l := &Library{prompts: map[string][]string{}, pick: rand.Intn}
	for k, v := range defaults {
		l.prompts[k] = v
	}

	if strings.TrimSpace(path) == "" {
		return l
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Warn("prompts file not readable, using defaults", logx.String("path", path), logx.Err(err))
		return l
	}
	var loaded map[string][]string
	if err := yaml.Unmarshal(b, &loaded); err != nil {
		log.Warn("prompts file not valid yaml, using defaults", logx.String("path", path), logx.Err(err))
		return l
	}
	for k, v := range loaded {
		if len(v) > 0 {
			l.prompts[k] = v
		}
	}
	log.Debug("prompts loaded", logx.String("path", path), logx.Int("categories", len(loaded)))
	return l
}

// ChatQuiet returns a random conversation starter.
func (l *Library) ChatQuiet() string {
	return l.choose(CategoryChatQuiet)
}

// ViewerReturn returns a personalized welcome-back line.
func (l *Library) ViewerReturn(username string, daysAgo, streamCount int) string {
	tpl := l.choose(CategoryViewerReturn)
	r := strings.NewReplacer(
		"{username}", username,
		"{days_ago}", strconv.Itoa(daysAgo),
		"{stream_count}", strconv.Itoa(streamCount),
	)
	return r.Replace(tpl)
}

// StreamerQuiet returns a nudge for when the operator has gone silent.
func (l *Library) StreamerQuiet() string {
	return l.choose(CategoryStreamerQuiet)
}

// All returns every prompt in a category (empty slice when unknown).
func (l *Library) All(category string) []string {
	return append([]string(nil), l.prompts[category]...)
}

func (l *Library) choose(category string) string {
	ps := l.prompts[category]
	if len(ps) == 0 {
		return fmt.Sprintf("(no prompts configured for %s)", category)
	}
	return ps[l.pick(len(ps))]
}
