package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/clawinfra/opsguardian/internal/agent"
	"github.com/clawinfra/opsguardian/internal/channels"
	"github.com/clawinfra/opsguardian/internal/guardrail"
)

var errMQTTDisabled = errors.New("mqtt is not enabled")

// jobExecutor runs scheduled actions. Commands go through the guardrail, so
// a risky scheduled command waits for approval like any other.
type jobExecutor struct {
	guard   *guardrail.Guardrail
	session *agent.Session
	mqtt    *channels.MQTTPublisher
}

func (e *jobExecutor) RunCommand(ctx context.Context, command string) (string, error) {
	out, err := e.guard.RunCommand(ctx, command)
	if err != nil {
		return "", err
	}
	if out.Request != nil {
		return fmt.Sprintf("Command requires approval. Request ID: %s", out.Request.ID), nil
	}
	return out.Output, nil
}

func (e *jobExecutor) Prompt(ctx context.Context, prompt string) (string, error) {
	if e.session == nil {
		return "", agent.ErrUnreachable
	}
	return e.session.Send(ctx, prompt)
}

func (e *jobExecutor) Publish(ctx context.Context, topic string, payload []byte) error {
	if e.mqtt == nil {
		return errMQTTDisabled
	}
	return e.mqtt.Publish(ctx, topic, payload)
}
