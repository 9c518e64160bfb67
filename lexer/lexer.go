// Package lexer implements a generic feed lexer: an ordered table of
// state-qualified regular expressions, each bound to a list of actions.
//
// Rules are tried in table order and the first one whose state matcher
// accepts the current state and whose pattern matches at the start of the
// buffer wins. Order is part of the grammar.
package lexer

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"classbindgen/logger"
)

const (
	InitialState = "INITIAL"

	// Continue returned from a handler leaves the state untouched.
	Continue = "CONTINUE"

	PushState  = "PUSH_STATE"
	PopState   = "POP_STATE"
	ErrorToken = "ERROR"

	// MaxUnconsumed is the buffer size past which a stuck lexer starts
	// discarding input even before the end of the feed.
	MaxUnconsumed = 1024
)

// Rule is one row of the token table.
type Rule struct {
	State   string // regular expression matched against the state name
	Pattern string // regular expression matched against the buffer
	Actions string // comma separated action names
	Next    string // state to enter after the actions, "" to stay
}

// Match is what a handler sees of a successful rule.
type Match struct {
	Text   string
	Offset int // processed byte count before this match
	groups []string
	set    []bool
}

// Group returns submatch i, or "" when it did not participate.
func (m *Match) Group(i int) string {
	if i < 0 || i >= len(m.groups) {
		return ""
	}
	return m.groups[i]
}

// Has reports whether submatch i participated in the match.
func (m *Match) Has(i int) bool {
	return i >= 0 && i < len(m.set) && m.set[i]
}

// Handler implements an action. The returned string is the new state, ""
// for no change, or Continue.
type Handler func(action string, m *Match) string

type compiledRule struct {
	Rule
	state   *regexp.Regexp
	pattern *regexp.Regexp
	actions []string
}

type Lexer struct {
	rules    []compiledRule
	handlers map[string]Handler
	log      *slog.Logger

	state     string
	stack     []string
	buffer    string
	processed int
	errors    int
}

// New compiles rules. Patterns are matched with dot-all and multi-line
// semantics, anchored at the start of the buffer.
func New(rules []Rule, handlers map[string]Handler, log *slog.Logger) (*Lexer, error) {
	l := &Lexer{
		handlers: make(map[string]Handler, len(handlers)+2),
		log:      logger.OrDiscard(log),
		state:    InitialState,
	}

	for i, r := range rules {
		stateRe, err := regexp.Compile(`\A(?s:` + r.State + `)`)
		if err != nil {
			return nil, fmt.Errorf("rule %d: state %q: %w", i, r.State, err)
		}
		patternRe, err := regexp.Compile(`\A(?ms:` + r.Pattern + `)`)
		if err != nil {
			return nil, fmt.Errorf("rule %d: pattern %q: %w", i, r.Pattern, err)
		}
		l.rules = append(l.rules, compiledRule{
			Rule:    r,
			state:   stateRe,
			pattern: patternRe,
			actions: strings.Split(r.Actions, ","),
		})
	}

	for name, h := range handlers {
		l.handlers[name] = h
	}
	l.handlers[PushState] = l.pushState
	l.handlers[PopState] = l.popState

	return l, nil
}

// FeedString appends data to the unconsumed input.
func (l *Lexer) FeedString(data string) {
	l.buffer += data
}

// NextToken consumes one token and returns its action list. ok is false
// when nothing could be consumed. end says no more input will be fed.
func (l *Lexer) NextToken(end bool) (token string, ok bool) {
	current := l.state

	for i := range l.rules {
		r := &l.rules[i]
		if !r.state.MatchString(current) {
			continue
		}

		loc := r.pattern.FindStringSubmatchIndex(l.buffer)
		if loc == nil || loc[1] == 0 {
			continue
		}

		m := &Match{
			Text:   l.buffer[:loc[1]],
			Offset: l.processed,
			groups: make([]string, len(loc)/2),
			set:    make([]bool, len(loc)/2),
		}
		for g := 0; g < len(loc)/2; g++ {
			if loc[2*g] >= 0 {
				m.groups[g] = l.buffer[loc[2*g]:loc[2*g+1]]
				m.set[g] = true
			}
		}

		l.buffer = l.buffer[loc[1]:]
		l.processed += loc[1]

		next := r.Next
		for _, action := range r.actions {
			h, found := l.handlers[action]
			if !found {
				l.log.Debug("no handler for action", "action", action, "match", m.Text)
				continue
			}

			l.log.Debug("calling action", "offset", fmt.Sprintf("0x%X", l.processed), "action", action, "match", m.Text)
			nextState := h(action, m)
			if nextState == Continue {
				continue
			}
			if nextState != "" {
				next = nextState
				l.state = next
			}
		}
		if next != "" {
			l.state = next
		}

		return r.Actions, true
	}

	if (end && len(l.buffer) > 0) || len(l.buffer) > MaxUnconsumed {
		l.buffer = l.buffer[1:]
		l.processed++
		l.Error(fmt.Sprintf("lexer stuck, discarding 1 byte (%q) in state %s", head(l.buffer, 10), l.state), 1)
		return ErrorToken, true
	}

	return "", false
}

// Close drains whatever is left in the buffer.
func (l *Lexer) Close() {
	for {
		if _, ok := l.NextToken(true); !ok {
			return
		}
	}
}

// ParseReader reads r to the end, feeds it and drains the lexer.
func (l *Lexer) ParseReader(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	l.FeedString(string(data))
	l.Close()
	return nil
}

// Error records a recoverable error of the given weight.
func (l *Lexer) Error(message string, weight int) {
	if message != "" {
		l.log.Debug("lexer error", "weight", weight, "message", message)
	}
	l.errors += weight
}

func (l *Lexer) pushState(string, *Match) string {
	l.log.Debug("storing state", "state", l.state)
	l.stack = append(l.stack, l.state)
	return ""
}

func (l *Lexer) popState(string, *Match) string {
	if len(l.stack) == 0 {
		l.log.Warn("tried to pop the state but the stack is empty, possible recursion error", "state", l.state)
		l.errors++
		return ""
	}
	state := l.stack[len(l.stack)-1]
	l.stack = l.stack[:len(l.stack)-1]
	l.log.Debug("returned state", "state", state)
	return state
}

func (l *Lexer) State() string  { return l.state }
func (l *Lexer) Processed() int { return l.processed }
func (l *Lexer) Errors() int    { return l.errors }

// Depth is the number of states saved by PUSH_STATE.
func (l *Lexer) Depth() int { return len(l.stack) }

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
