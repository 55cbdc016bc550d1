package sandbox

import (
	"context"
	"encoding/json"

	"cadbridge/pkg/engine"
)

// engineModel exposes an engine's active document to snippets.
type engineModel struct {
	eng engine.Engine
}

// NewModel returns the read-only Model backed by eng.
func NewModel(eng engine.Engine) Model {
	return engineModel{eng: eng}
}

func (m engineModel) ObjectNames(ctx context.Context) ([]string, error) {
	objs, err := m.eng.Objects(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(objs))
	for _, o := range objs {
		names = append(names, o.Name)
	}
	return names, nil
}

// Describe renders the object as JSON.
func (m engineModel) Describe(ctx context.Context, name string) (string, error) {
	obj, err := m.eng.Object(ctx, name)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m engineModel) Volume(ctx context.Context, name string) (float64, error) {
	props, err := m.eng.Properties(ctx, name)
	if err != nil {
		return 0, err
	}
	return props.Volume, nil
}
