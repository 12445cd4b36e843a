/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runrequest_test

import (
	"testing"

	"chainguard.dev/agentharness/runrequest"
)

func TestSchema(t *testing.T) {
	s := runrequest.Schema()
	if s == nil {
		t.Fatal("expected schema")
	}
	if s.Type != "object" {
		t.Errorf("schema type = %s, want object", s.Type)
	}

	if len(s.Required) != 1 || s.Required[0] != "prompt" {
		t.Fatalf("unexpected required: %#v", s.Required)
	}

	props := s.Properties
	if props == nil {
		t.Fatal("expected properties")
	}
	for _, name := range []string{"prompt", "options", "repo", "actions", "external_tests"} {
		if _, ok := props.Get(name); !ok {
			t.Errorf("missing %s property", name)
		}
	}
}

func TestSchemaConflictStrategyEnum(t *testing.T) {
	s := runrequest.Schema()

	actions, ok := s.Properties.Get("actions")
	if !ok {
		t.Fatal("missing actions property")
	}
	push, ok := actions.Properties.Get("push")
	if !ok {
		t.Fatal("missing push property")
	}
	strategy, ok := push.Properties.Get("conflict_strategy")
	if !ok {
		t.Fatal("missing conflict_strategy property")
	}

	want := map[any]bool{"fail": true, "auto": true}
	if len(strategy.Enum) != len(want) {
		t.Fatalf("unexpected enum: %#v", strategy.Enum)
	}
	for _, v := range strategy.Enum {
		if !want[v] {
			t.Errorf("unexpected enum value %v", v)
		}
	}
}

func TestSchemaExternalTestsRequired(t *testing.T) {
	s := runrequest.Schema()

	ext, ok := s.Properties.Get("external_tests")
	if !ok {
		t.Fatal("missing external_tests property")
	}

	required := map[string]bool{}
	for _, name := range ext.Required {
		required[name] = true
	}
	if !required["url"] || !required["path"] {
		t.Errorf("external_tests required = %#v, want url and path", ext.Required)
	}
}
