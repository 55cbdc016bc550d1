package dispatcher

import (
	"context"

	"cadbridge/pkg/journal"
	"cadbridge/pkg/protocol"
)

type patternParams struct {
	MinFrequency int `json:"min_frequency" validate:"gte=0"`
}

type preferenceParams struct {
	Key        string  `json:"key" validate:"required"`
	Value      string  `json:"value" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

type preferencesParams struct {
	MinConfidence float64 `json:"min_confidence" validate:"gte=0,lte=1"`
}

// NextOperation is the suggest_next_operation result.
type NextOperation struct {
	Suggestion *journal.Suggestion `json:"suggestion"`
	Message    string              `json:"message"`
}

func (d *Dispatcher) learningHandlers() []Handler {
	return []Handler{
		typed(protocol.ToolGetPatterns, func() patternParams {
			return patternParams{MinFrequency: d.cfg.MinPatternFreq}
		}, d.getPatterns),
		typed(protocol.ToolSuggestNext, none, d.suggestNext),
		typed(protocol.ToolSetPreference, func() preferenceParams {
			return preferenceParams{Confidence: 1}
		}, d.setPreference),
		typed(protocol.ToolGetPreferences, func() preferencesParams {
			return preferencesParams{MinConfidence: d.cfg.MinPreferenceConf}
		}, d.getPreferences),
	}
}

func (d *Dispatcher) requireJournal() error {
	if d.journal == nil {
		return protocol.Errorf(protocol.KindPrecondition, "pattern learning is not configured")
	}
	return nil
}

func (d *Dispatcher) getPatterns(ctx context.Context, p patternParams, _ Args) (any, error) {
	if err := d.requireJournal(); err != nil {
		return nil, err
	}
	rows, err := d.journal.CommonPatterns(ctx, p.MinFrequency)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindDownstream, err, "query patterns")
	}
	if rows == nil {
		rows = []protocol.PatternRow{}
	}
	return rows, nil
}

func (d *Dispatcher) suggestNext(ctx context.Context, _ noParams, _ Args) (any, error) {
	if err := d.requireJournal(); err != nil {
		return nil, err
	}
	sg, ok, err := d.journal.SuggestNext(ctx)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindDownstream, err, "suggest next operation")
	}
	if !ok {
		return NextOperation{Message: "No suggestion yet: not enough history"}, nil
	}
	return NextOperation{Suggestion: &sg, Message: "Suggested next operation: " + sg.Next}, nil
}

func (d *Dispatcher) setPreference(ctx context.Context, p preferenceParams, _ Args) (any, error) {
	if err := d.requireJournal(); err != nil {
		return nil, err
	}
	if err := d.journal.SetPreference(ctx, p.Key, p.Value, p.Confidence); err != nil {
		return nil, err
	}
	return "Preference set: " + p.Key + " = " + p.Value, nil
}

func (d *Dispatcher) getPreferences(ctx context.Context, p preferencesParams, _ Args) (any, error) {
	if err := d.requireJournal(); err != nil {
		return nil, err
	}
	rows, err := d.journal.Preferences(ctx, p.MinConfidence)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindDownstream, err, "query preferences")
	}
	if rows == nil {
		rows = []protocol.PreferenceRow{}
	}
	return rows, nil
}
