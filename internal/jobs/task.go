package jobs

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/makeasinger/sunoproxy/internal/apperr"
)

var validate = validator.New()

// Definition is a registered task type. Use Task to build one.
type Definition interface {
	Identifier() string
	QueueName() string
	Policy() RetryPolicy
	execute(ctx context.Context, rc *RunContext, raw []byte) ([]byte, error)
}

// Task is a typed task definition. The payload is decoded and validated
// before Run is called; the output is stored as the run's JSON output.
type Task[P any, O any] struct {
	ID    string
	Queue string
	Retry RetryPolicy
	Run   func(ctx context.Context, rc *RunContext, payload P) (O, error)
}

func (t *Task[P, O]) Identifier() string  { return t.ID }
func (t *Task[P, O]) QueueName() string   { return t.Queue }
func (t *Task[P, O]) Policy() RetryPolicy { return t.Retry }

func (t *Task[P, O]) execute(ctx context.Context, rc *RunContext, raw []byte) ([]byte, error) {
	payload, err := t.decode(raw)
	if err != nil {
		return nil, err
	}

	out, err := t.Run(ctx, rc, payload)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("marshal %s output: %w", t.ID, err))
	}
	return data, nil
}

func (t *Task[P, O]) decode(raw []byte) (P, error) {
	var payload P
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return payload, apperr.Validation(fmt.Sprintf("invalid %s payload: %v", t.ID, err))
		}
	}
	if err := validatePayload(payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func validatePayload(payload any) error {
	v := reflect.ValueOf(payload)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return apperr.Validation("payload is required")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	if err := validate.Struct(payload); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "payload failed validation")
	}
	return nil
}
