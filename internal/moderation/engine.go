package moderation

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/joinhall/lobbysync/internal/dependencies/clock"
	"github.com/joinhall/lobbysync/internal/model"
)

// ChatMaxLength is the default maximum accepted message length
const ChatMaxLength = 160

const (
	duplicateWindow = 15 * time.Second
	capsMinLetters  = 12
	capsMaxRatio    = 0.7
	maskGlyph       = '•'
)

var urlRe = regexp.MustCompile(`https?://\S+`)

// Reason classifies a moderation outcome. Rejections are expected and
// frequent; they are results, never errors.
type Reason string

const (
	ReasonOK        Reason = "OK"
	ReasonEmpty     Reason = "EMPTY"
	ReasonTooLong   Reason = "TOO_LONG"
	ReasonDuplicate Reason = "DUPLICATE"
	ReasonCaps      Reason = "CAPS"
	ReasonCooldown  Reason = "COOLDOWN"
)

// Result is the structured outcome of running a message through the
// pipeline
type Result struct {
	OK             bool
	Reason         Reason
	Text           string // cleaned text when OK
	CooldownMsLeft int64  // when blocked by slow mode
	Replaced       bool   // whether scrubbing/masking altered the text
	Original       string // pre-alteration text when Replaced
}

// Options carries the per-call knobs resolved from room options
type Options struct {
	AllowLinks bool
	SlowModeMs int
}

// Config holds engine configuration
type Config struct {
	MaxLength int
	BlockList []string
}

// DefaultConfig returns the default moderation configuration
func DefaultConfig() Config {
	return Config{
		MaxLength: ChatMaxLength,
		BlockList: []string{"bad", "worse", "awful"},
	}
}

// Engine is the per-client chat moderation pipeline. Its only state is
// per-player bookkeeping for the duplicate and cooldown checks; it
// performs no I/O.
type Engine struct {
	clock     clock.Clock
	maxLength int

	mu         sync.Mutex
	blockWords map[string]bool
	blockRe    *regexp.Regexp
	lastSentAt map[model.PlayerID]time.Time
	lastText   map[model.PlayerID]lastMessage
}

type lastMessage struct {
	norm string
	at   time.Time
}

// New creates a moderation engine
func New(clk clock.Clock, cfg Config) *Engine {
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultConfig().MaxLength
	}
	if cfg.BlockList == nil {
		cfg.BlockList = DefaultConfig().BlockList
	}

	e := &Engine{
		clock:      clk,
		maxLength:  cfg.MaxLength,
		blockWords: make(map[string]bool),
		lastSentAt: make(map[model.PlayerID]time.Time),
		lastText:   make(map[model.PlayerID]lastMessage),
	}
	e.ExtendBlockList(cfg.BlockList)
	return e
}

// ExtendBlockList adds words to the masking block-list at runtime
func (e *Engine) ExtendBlockList(words []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			e.blockWords[w] = true
		}
	}
	e.blockRe = buildBlockRegex(e.blockWords)
}

// Moderate runs text through the pipeline, short-circuiting on the
// first failing check. Cheap shape checks run before the stateful
// duplicate/cooldown checks so a malformed message never mutates the
// bookkeeping.
func (e *Engine) Moderate(playerID model.PlayerID, text string, opts Options) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	text = collapseWhitespace(text)

	if text == "" {
		return Result{Reason: ReasonEmpty}
	}
	if len([]rune(text)) > e.maxLength {
		return Result{Reason: ReasonTooLong}
	}

	norm := strings.ToLower(text)
	if last, ok := e.lastText[playerID]; ok {
		if last.norm == norm && now.Sub(last.at) < duplicateWindow {
			return Result{Reason: ReasonDuplicate}
		}
	}

	if isShouting(text) {
		return Result{Reason: ReasonCaps}
	}

	if opts.SlowModeMs > 0 {
		slow := time.Duration(opts.SlowModeMs) * time.Millisecond
		if lastAt, ok := e.lastSentAt[playerID]; ok {
			if left := slow - now.Sub(lastAt); left > 0 {
				return Result{Reason: ReasonCooldown, CooldownMsLeft: left.Milliseconds()}
			}
		}
	}

	replaced := false
	original := text

	if !opts.AllowLinks {
		scrubbed := collapseWhitespace(urlRe.ReplaceAllString(text, ""))
		if scrubbed != text {
			text = scrubbed
			replaced = true
		}
		if text == "" {
			return Result{Reason: ReasonEmpty}
		}
	}

	if e.blockRe != nil {
		masked := e.blockRe.ReplaceAllStringFunc(text, maskWord)
		if masked != text {
			text = masked
			replaced = true
		}
	}

	e.lastText[playerID] = lastMessage{norm: norm, at: now}
	if opts.SlowModeMs > 0 {
		e.lastSentAt[playerID] = now
	}

	res := Result{OK: true, Reason: ReasonOK, Text: text, Replaced: replaced}
	if replaced {
		res.Original = original
	}
	return res
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isShouting checks the uppercase ratio over alphabetic characters only
func isShouting(s string) bool {
	letters, upper := 0, 0
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			letters++
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		}
	}
	if letters < capsMinLetters {
		return false
	}
	return float64(upper)/float64(letters) > capsMaxRatio
}

// maskWord keeps the first and last character, masking the interior;
// words of one or two characters are fully masked
func maskWord(word string) string {
	runes := []rune(word)
	if len(runes) <= 2 {
		return strings.Repeat(string(maskGlyph), len(runes))
	}
	return string(runes[0]) + strings.Repeat(string(maskGlyph), len(runes)-2) + string(runes[len(runes)-1])
}

func buildBlockRegex(words map[string]bool) *regexp.Regexp {
	if len(words) == 0 {
		return nil
	}
	escaped := make([]string, 0, len(words))
	for w := range words {
		escaped = append(escaped, regexp.QuoteMeta(w))
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`)
}
