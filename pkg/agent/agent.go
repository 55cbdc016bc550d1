// Package agent answers free-text ai_agent requests on top of the
// dispatcher.
//
// A request is classified once. Direct answers read existing state through
// a single dispatch. Planned requests expand into canned sub-goals, each run
// through the reasoning loop; the first sub-goal that needs a human aborts
// the plan. Iterative requests run the loop on the request itself.
//
// The loop alternates thought, action and observation for at most
// MaxIterations rounds. Every exit is either a success text or a NeedsHuman
// payload; the loop never ends silently.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"cadbridge/pkg/protocol"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Dispatcher executes one tool call.
type Dispatcher interface {
	Dispatch(ctx context.Context, tool string, args map[string]any) protocol.Response
}

// StatusNeedsHuman marks an ask-human payload.
const StatusNeedsHuman = "needs_human"

// contextWindow is how many recent iterations an ask-human payload carries.
const contextWindow = 3

// Action is the tool call an iteration made.
type Action struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// Iteration is one entry of a conversation log.
type Iteration struct {
	Index       int    `json:"iteration"`
	Thought     string `json:"thought"`
	Action      Action `json:"action"`
	Observation string `json:"observation"`
}

// NeedsHuman is the ask-human result. It is an Ok result, not an error.
type NeedsHuman struct {
	Status  string      `json:"status"`
	Goal    string      `json:"goal"`
	Reason  string      `json:"reason"`
	Context []Iteration `json:"context"`
	Message string      `json:"message"`
}

// Config holds Agent configuration.
type Config struct {
	MaxIterations int        // Loop bound per goal (default 15).
	Classifier    Classifier // Default RuleClassifier.
	Plans         *Catalog   // Default DefaultCatalog().
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxIterations <= 0 {
		out.MaxIterations = protocol.DefaultMaxIterations
	}
	if out.Classifier == nil {
		out.Classifier = RuleClassifier{}
	}
	if out.Plans == nil {
		out.Plans = DefaultCatalog()
	}
	return out
}

//nolint:gochecknoglobals // prometheus collectors register once per process
var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cadbridge",
	Subsystem: "agent",
	Name:      "runs_total",
	Help:      "ai_agent requests by mode and outcome",
}, []string{"mode", "outcome"})

// Agent holds no per-request state; concurrent Runs share nothing.
type Agent struct {
	cfg  Config
	tool Dispatcher
	log  *zap.Logger
}

// New creates an Agent that acts through d.
func New(cfg Config, d Dispatcher, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{cfg: cfg.withDefaults(), tool: d, log: log.With(zap.String("component", "agent"))}
}

// run is the state of one top-level request.
type run struct {
	*Agent
	log     *zap.Logger
	request string
}

// Run handles one request. The result is a success string or a NeedsHuman.
func (a *Agent) Run(ctx context.Context, request string) (any, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, protocol.Errorf(protocol.KindInvalidArgs, "request is required")
	}
	mode := a.cfg.Classifier.Classify(request)
	r := &run{
		Agent:   a,
		request: request,
		log: a.log.With(
			zap.String("run_id", uuid.NewString()),
			zap.Stringer("mode", mode)),
	}
	r.log.Info("agent request", zap.String("request", request))

	var (
		res any
		err error
	)
	switch mode {
	case DirectAnswer:
		res, err = r.direct(ctx)
	case PlannedMultiStep:
		res, err = r.planned(ctx)
	default:
		res, err = r.iterate(ctx, Step{Goal: request})
	}

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case isNeedsHuman(res):
		outcome = StatusNeedsHuman
	}
	runsTotal.WithLabelValues(mode.String(), outcome).Inc()
	return res, err
}

func isNeedsHuman(v any) bool {
	_, ok := v.(NeedsHuman)
	return ok
}

// direct answers counting and listing questions from the object list.
// Anything else falls through to the loop.
func (r *run) direct(ctx context.Context) (any, error) {
	t := strings.ToLower(r.request)
	switch {
	case anyMatch(terms("how many", "count"), t):
		names, err := r.objectNames(ctx)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return "Document contains 0 objects", nil
		}
		return fmt.Sprintf("Document contains %d objects: %s", len(names), strings.Join(names, ", ")), nil

	case anyMatch(terms("list", "show me", "which objects"), t):
		resp := r.tool.Dispatch(ctx, protocol.ToolListObjects, nil)
		if protocol.IsKind(resp.Err, protocol.KindPrecondition) {
			return "No active document", nil
		}
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Text(), nil

	case anyMatch(terms("what is", "what does", "tell me", "describe"), t):
		return "I can help with CAD operations like creating objects, modifying geometry, " +
			"and analyzing designs. What would you like to do?", nil

	default:
		return r.iterate(ctx, Step{Goal: r.request})
	}
}

func (r *run) objectNames(ctx context.Context) ([]string, error) {
	resp := r.tool.Dispatch(ctx, protocol.ToolListObjects, nil)
	if protocol.IsKind(resp.Err, protocol.KindPrecondition) {
		return nil, nil
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	type named struct {
		Name string `json:"name"`
	}
	var objs []named
	if err := remarshal(resp.Result, &objs); err != nil {
		return nil, protocol.Wrap(protocol.KindDownstream, err, "read object list")
	}
	names := make([]string, len(objs))
	for i, o := range objs {
		names[i] = o.Name
	}
	return names, nil
}

func (r *run) planned(ctx context.Context) (any, error) {
	plan := r.cfg.Plans.For(r.request)
	steps := plan.Expand(r.request)
	r.log.Info("plan selected", zap.String("plan", plan.Name), zap.Int("steps", len(steps)))

	summary := make([]string, 0, len(steps))
	for i, step := range steps {
		res, err := r.iterate(ctx, step)
		if err != nil {
			return nil, err
		}
		if nh, ok := res.(NeedsHuman); ok {
			r.log.Info("plan aborted", zap.String("plan", plan.Name), zap.Int("step", i+1))
			nh.Goal = r.request
			nh.Reason = fmt.Sprintf("step %d of %d (%s): %s", i+1, len(steps), step.Goal, nh.Reason)
			nh.Message = helpMessage(nh.Goal, nh.Reason, nh.Context)
			return nh, nil
		}
		summary = append(summary, fmt.Sprintf("%d. %s", i+1, step.Goal))
	}
	return fmt.Sprintf("All tasks completed successfully (%s plan):\n%s",
		plan.Name, strings.Join(summary, "\n")), nil
}

// iterate runs the reasoning loop for one goal.
func (r *run) iterate(ctx context.Context, step Step) (any, error) {
	var history []Iteration
	for i := 1; i <= r.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, protocol.Wrap(protocol.KindDownstream, err, "agent cancelled")
		}
		thought := reason(step, history)
		action := selectAction(thought, step.Goal)
		if action.Tool == "" {
			return r.askHuman(step.Goal, "agent asked for help: "+thought, history), nil
		}

		resp := r.tool.Dispatch(ctx, action.Tool, action.Params)
		if resp.Awaiting != nil {
			history = append(history, Iteration{Index: i, Thought: thought, Action: action, Observation: resp.Awaiting.Message})
			return r.askHuman(step.Goal,
				fmt.Sprintf("a viewport selection is required (operation %s)", resp.Awaiting.OperationID), history), nil
		}
		obs := observe(resp)
		history = append(history, Iteration{Index: i, Thought: thought, Action: action, Observation: obs})
		r.log.Debug("iteration",
			zap.Int("iteration", i),
			zap.String("thought", thought),
			zap.String("action", action.Tool),
			zap.String("observation", obs))

		switch {
		case goalReached(step, obs):
			return fmt.Sprintf("Task completed after %d iteration(s): %s", i, obs), nil
		case stuck(thought, obs):
			return r.askHuman(step.Goal, obs, history), nil
		}
	}
	return r.askHuman(step.Goal, "Too many iterations, need guidance", history), nil
}

func (r *run) askHuman(goal, reason string, history []Iteration) NeedsHuman {
	tail := history
	if len(tail) > contextWindow {
		tail = tail[len(tail)-contextWindow:]
	}
	ctxCopy := append([]Iteration{}, tail...)
	r.log.Info("asking for help", zap.String("goal", goal), zap.String("reason", reason))
	return NeedsHuman{
		Status:  StatusNeedsHuman,
		Goal:    goal,
		Reason:  reason,
		Context: ctxCopy,
		Message: helpMessage(goal, reason, ctxCopy),
	}
}

func helpMessage(goal, reason string, history []Iteration) string {
	var b strings.Builder
	b.WriteString("I need your help!\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	if len(history) > 0 {
		b.WriteString("\nWhat I've tried:\n")
		for i, it := range history {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, it.Thought, it.Observation)
		}
	}
	b.WriteString("\nPlease tell me what to do next, or make the change manually.")
	return b.String()
}

//nolint:gochecknoglobals // compiled once
var (
	modifyGoal   = terms("make", "change", "modify", "bigger", "larger", "smaller", "resize")
	successTerms = []string{"successfully", "completed", "created", "✓"}
	stuckTerms   = []string{"failed", "error", "cannot", "unable", "stuck"}
	failureTerms = []string{"error", "failed"}
	beforeAfter  = regexp.MustCompile(`\d+(\.\d+)?(x\d+(\.\d+)?)*\s*→\s*\d`)
)

// reason derives the next thought. Thoughts start with an intent verb and
// a colon; selectAction keys on it.
func reason(step Step, history []Iteration) string {
	if len(history) == 0 {
		if step.Intent != "" {
			return fmt.Sprintf("%s: %s", step.Intent, step.Goal)
		}
		if anyMatch(modifyGoal, strings.ToLower(step.Goal)) {
			return "analyze: inspect the current geometry to see what needs to be modified"
		}
		return "analyze: understand the current state to help with: " + step.Goal
	}
	last := strings.ToLower(history[len(history)-1].Observation)
	switch {
	case strings.Contains(last, "found") && strings.Contains(last, "objects"):
		return "modify: decide how to modify these objects for: " + step.Goal
	case strings.Contains(last, "modified") && strings.Contains(last, "objects"):
		return "verify: the modifications look complete, check the final result"
	case strings.Contains(last, "created"):
		return "verify: check the creation worked"
	case containsAny(last, failureTerms):
		return "help: the last action failed, a different approach is needed"
	default:
		return "analyze: continue working towards: " + step.Goal
	}
}

// selectAction maps a thought's intent to a tool. An empty tool means ask a
// human.
func selectAction(thought, goal string) Action {
	verb, _, _ := strings.Cut(thought, ":")
	params := map[string]any{"goal": goal}
	switch Intent(strings.TrimSpace(verb)) {
	case IntentHelp:
		return Action{}
	case IntentModify:
		return Action{Tool: protocol.ToolModifyParameters, Params: params}
	case IntentCreate:
		return Action{Tool: protocol.ToolCreateObject, Params: params}
	case IntentVerify:
		return Action{Tool: protocol.ToolVerifyResult, Params: params}
	default:
		return Action{Tool: protocol.ToolAnalyzeState, Params: params}
	}
}

// observe renders a dispatch result, marking failures.
func observe(resp protocol.Response) string {
	if resp.Err != nil {
		return "Action failed: " + resp.Err.Message
	}
	text := resp.Text()
	if strings.Contains(text, "Error") || strings.Contains(text, "Failed") {
		return "Action failed: " + text
	}
	return text
}

func goalReached(step Step, obs string) bool {
	o := strings.ToLower(obs)
	if strings.HasPrefix(o, "action failed") {
		return false
	}
	if containsAny(o, successTerms) || containsAny(o, lower(step.DoneWhen)) {
		return true
	}
	return anyMatch(modifyGoal, strings.ToLower(step.Goal)) &&
		strings.Contains(o, "modified") && beforeAfter.MatchString(obs)
}

func stuck(thought, obs string) bool {
	return containsAny(strings.ToLower(obs), stuckTerms) || containsAny(strings.ToLower(thought), stuckTerms)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// remarshal converts a dispatch result into dst through JSON so in-process
// values and decoded wire values read the same way.
func remarshal(v any, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
