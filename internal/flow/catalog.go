// Package flow implements the conversation state machine for PharmFlow: the
// static flow catalog, field validation, the transition engine, session
// governance and order finalization.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pharmflow/pharmflow/internal/models"
)

// FieldType describes how a step's input is validated.
type FieldType string

const (
	// FieldText accepts any non-empty text verbatim.
	FieldText FieldType = "text"
	// FieldDate accepts a DD/MM/YYYY calendar date strictly in the past.
	FieldDate FieldType = "date"
	// FieldChoice accepts one of the step's declared option tokens.
	FieldChoice FieldType = "choice"
	// FieldOptional accepts any text, with a sentinel token meaning "skip".
	FieldOptional FieldType = "optional"
)

// InputMode declares how a choice step matches input against its options.
type InputMode string

const (
	// InputTokens matches the canonical option tokens only (case-sensitive).
	InputTokens InputMode = "tokens"
	// InputNumbers matches a 1-based index into the option list only.
	InputNumbers InputMode = "numbers"
	// InputEither matches tokens first, then numeric indexes.
	InputEither InputMode = "either"
)

// Markers a NextRule may return instead of a concrete step.
const (
	// StepTerminal ends the flow and runs its terminal action.
	StepTerminal models.StepID = "__TERMINAL__"
	// StepAbort discards the flow and returns the contact to the root menu.
	StepAbort models.StepID = "__ABORT__"
)

// NextRule computes the step that follows a validated value. It may branch on
// previously collected scratch values.
type NextRule func(scratch map[models.FieldID]models.FieldValue, value models.FieldValue) models.StepID

// BackRule computes the step a back navigation returns to. It may differ from
// the linear predecessor (e.g. the OTC branch backs out to the type chooser).
type BackRule func(scratch map[models.FieldID]models.FieldValue) models.StepID

// TerminalAction is the side effect run when a flow reaches its end. On error
// the engine leaves the contact at the pre-terminal step so the operation is
// retryable.
type TerminalAction interface {
	Complete(ctx context.Context, contact *models.Contact, scratch map[models.FieldID]models.FieldValue) ([]models.OutboundMessage, error)
}

// Step is one prompt/validation unit within a flow. Steps are static catalog
// data; the engine evaluates them uniformly.
type Step struct {
	ID                models.StepID
	Prompt            string
	Field             models.FieldID
	Type              FieldType
	Options           []string
	Mode              InputMode
	SkipToken         string
	AcceptsAttachment bool
	MaxQuickReplies   int // 0 means the catalog default cap
	AllowBack         bool
	Next              NextRule
	Back              BackRule
	// Targets lists every step id Next may return and, for steps allowing
	// back navigation, every id Back may return. Checked at startup.
	Targets []models.StepID
}

// automatic reports whether the step collects no input and routes purely on
// the scratch collected so far. The engine chains through automatic steps in
// the same Advance call instead of waiting for a new event.
func (s *Step) automatic() bool {
	return s.Prompt == "" && s.Field == ""
}

// Flow is a named, catalog-defined conversation. Entry may be StepTerminal for
// flows that perform a lookup and reply without collecting input.
type Flow struct {
	ID       models.FlowID
	Entry    models.StepID
	Steps    map[models.StepID]*Step
	Terminal TerminalAction
}

// RootOption is one entry of the root menu, mapping a selection to a flow.
type RootOption struct {
	Token string
	Label string
	Flow  models.FlowID
}

// Config carries the reserved tokens and rendering limits of the catalog.
type Config struct {
	BackToken     string
	AbortToken    string
	QuickReplyCap int
}

// Default reserved tokens and rendering limits.
const (
	DefaultBackToken     = "0"
	DefaultAbortToken    = "00"
	DefaultQuickReplyCap = 3
)

func (c Config) withDefaults() Config {
	if c.BackToken == "" {
		c.BackToken = DefaultBackToken
	}
	if c.AbortToken == "" {
		c.AbortToken = DefaultAbortToken
	}
	if c.QuickReplyCap <= 0 {
		c.QuickReplyCap = DefaultQuickReplyCap
	}
	return c
}

// Catalog is the static registry of every flow and the root menu.
type Catalog struct {
	cfg         Config
	flows       map[models.FlowID]*Flow
	rootOptions []RootOption
}

// NewCatalog creates an empty catalog with the given configuration.
func NewCatalog(cfg Config) *Catalog {
	return &Catalog{
		cfg:   cfg.withDefaults(),
		flows: make(map[models.FlowID]*Flow),
	}
}

// AddFlow registers a flow in the catalog.
func (c *Catalog) AddFlow(f *Flow) {
	c.flows[f.ID] = f
}

// AddRootOption appends an entry to the root menu.
func (c *Catalog) AddRootOption(token, label string, flow models.FlowID) {
	c.rootOptions = append(c.rootOptions, RootOption{Token: token, Label: label, Flow: flow})
}

// Flow returns the flow registered under id.
func (c *Catalog) Flow(id models.FlowID) (*Flow, bool) {
	f, ok := c.flows[id]
	return f, ok
}

// Step returns a step of a flow.
func (c *Catalog) Step(flow models.FlowID, step models.StepID) (*Step, bool) {
	f, ok := c.flows[flow]
	if !ok {
		return nil, false
	}
	s, ok := f.Steps[step]
	return s, ok
}

// BackToken returns the reserved backward-navigation token.
func (c *Catalog) BackToken() string { return c.cfg.BackToken }

// AbortToken returns the reserved abort-to-root token.
func (c *Catalog) AbortToken() string { return c.cfg.AbortToken }

// MatchRootOption resolves a root-menu selection by token (case-insensitive)
// or 1-based numeric index.
func (c *Catalog) MatchRootOption(input string) (RootOption, bool) {
	input = strings.TrimSpace(input)
	for _, opt := range c.rootOptions {
		if strings.EqualFold(opt.Token, input) {
			return opt, true
		}
	}
	if idx, err := strconv.Atoi(input); err == nil && idx >= 1 && idx <= len(c.rootOptions) {
		return c.rootOptions[idx-1], true
	}
	return RootOption{}, false
}

// RenderStep derives the outbound prompt for a step. The prompt is computed
// from catalog data alone so rejected input can re-emit it idempotently. When
// the option count exceeds the quick-reply cap the options are rendered as a
// numbered list in the body instead.
func (c *Catalog) RenderStep(to string, s *Step) models.OutboundMessage {
	msg := models.OutboundMessage{To: to, Body: s.Prompt}
	if len(s.Options) == 0 {
		return msg
	}
	cap := s.MaxQuickReplies
	if cap <= 0 {
		cap = c.cfg.QuickReplyCap
	}
	if len(s.Options) <= cap {
		msg.QuickReplies = append([]string(nil), s.Options...)
		return msg
	}
	var b strings.Builder
	b.WriteString(s.Prompt)
	b.WriteString("\n")
	for i, opt := range s.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	msg.Body = b.String()
	return msg
}

// RenderRootMenu derives the root menu prompt.
func (c *Catalog) RenderRootMenu(to string) models.OutboundMessage {
	var b strings.Builder
	b.WriteString("What can we help you with today?")
	b.WriteString("\n")
	for i, opt := range c.rootOptions {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
	}
	return models.OutboundMessage{To: to, Body: b.String()}
}

// Validate checks catalog integrity. It is run once at startup and fails fast
// so a defective catalog never manifests as a runtime loop or a dangling step.
func (c *Catalog) Validate() error {
	if len(c.rootOptions) == 0 {
		return fmt.Errorf("catalog defect: root menu has no options")
	}
	for _, opt := range c.rootOptions {
		if _, ok := c.flows[opt.Flow]; !ok {
			return fmt.Errorf("catalog defect: root option %q references unknown flow %s", opt.Token, opt.Flow)
		}
		if opt.Token == c.cfg.BackToken || opt.Token == c.cfg.AbortToken {
			return fmt.Errorf("catalog defect: root option %q reuses a reserved token", opt.Token)
		}
	}
	for id, f := range c.flows {
		if err := c.validateFlow(f); err != nil {
			return fmt.Errorf("flow %s: %w", id, err)
		}
	}
	slog.Info("Flow catalog validated", "flows", len(c.flows), "root_options", len(c.rootOptions))
	return nil
}

func (c *Catalog) validateFlow(f *Flow) error {
	if f.Terminal == nil {
		return fmt.Errorf("catalog defect: no terminal action")
	}
	if f.Entry != StepTerminal {
		if _, ok := f.Steps[f.Entry]; !ok {
			return fmt.Errorf("catalog defect: entry step %s not defined", f.Entry)
		}
	}
	for id, s := range f.Steps {
		if s.ID != id {
			return fmt.Errorf("catalog defect: step registered as %s but declares id %s", id, s.ID)
		}
		if s.Next == nil {
			return fmt.Errorf("catalog defect: step %s has no next rule", id)
		}
		if s.AllowBack && s.Back == nil {
			return fmt.Errorf("catalog defect: step %s allows back but has no back rule", id)
		}
		if s.Type == FieldChoice && len(s.Options) == 0 {
			return fmt.Errorf("catalog defect: choice step %s declares no options", id)
		}
		if s.Type == FieldOptional && s.SkipToken == "" {
			return fmt.Errorf("catalog defect: optional step %s declares no skip token", id)
		}
		for _, opt := range s.Options {
			if opt == c.cfg.BackToken || opt == c.cfg.AbortToken {
				return fmt.Errorf("catalog defect: step %s option %q reuses a reserved token", id, opt)
			}
		}
		if s.SkipToken != "" && (s.SkipToken == c.cfg.BackToken || s.SkipToken == c.cfg.AbortToken) {
			return fmt.Errorf("catalog defect: step %s skip token reuses a reserved token", id)
		}
		if s.automatic() {
			if s.Type != "" || len(s.Options) > 0 || s.AcceptsAttachment {
				return fmt.Errorf("catalog defect: automatic step %s declares input handling", id)
			}
			if s.AllowBack {
				return fmt.Errorf("catalog defect: automatic step %s allows back navigation", id)
			}
		}
		for _, target := range s.Targets {
			if target == StepTerminal || target == StepAbort {
				continue
			}
			if _, ok := f.Steps[target]; !ok {
				return fmt.Errorf("catalog defect: step %s targets missing step %s", id, target)
			}
		}
	}
	for id, s := range f.Steps {
		if !s.automatic() {
			continue
		}
		if err := walkAutomatic(f, s, map[models.StepID]bool{id: true}); err != nil {
			return err
		}
	}
	return nil
}

// walkAutomatic rejects cycles among automatic steps reachable through the
// declared Targets. The engine keeps a runtime depth counter as a second line
// of defense for a rule whose returns stray from its declared Targets.
func walkAutomatic(f *Flow, s *Step, seen map[models.StepID]bool) error {
	for _, target := range s.Targets {
		if target == StepTerminal || target == StepAbort {
			continue
		}
		t, ok := f.Steps[target]
		if !ok || !t.automatic() {
			continue
		}
		if seen[target] {
			return fmt.Errorf("catalog defect: automatic steps cycle through %s", target)
		}
		seen[target] = true
		if err := walkAutomatic(f, t, seen); err != nil {
			return err
		}
		delete(seen, target)
	}
	return nil
}
