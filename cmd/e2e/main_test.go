package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/c360studio/seminvoke/test/e2e/config"
	"github.com/c360studio/seminvoke/test/e2e/scenarios"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScenario struct {
	name        string
	setupErr    error
	execErr     error
	stageErr    error
	teardownErr error

	tornDown bool
	deadline bool
}

func (f *fakeScenario) Name() string        { return f.name }
func (f *fakeScenario) Description() string { return "fake " + f.name }

func (f *fakeScenario) Setup(context.Context) error { return f.setupErr }

func (f *fakeScenario) Execute(ctx context.Context) (*scenarios.Result, error) {
	_, f.deadline = ctx.Deadline()
	if f.execErr != nil {
		return nil, f.execErr
	}
	res := scenarios.NewResult(f.name)
	res.Stage("invoke", func() error { return f.stageErr })
	return res.Finish(), nil
}

func (f *fakeScenario) Teardown(context.Context) error {
	f.tornDown = true
	return f.teardownErr
}

func fakeBuild(list ...scenarios.Scenario) func(*config.Config) []scenarios.Scenario {
	return func(*config.Config) []scenarios.Scenario { return list }
}

func runE2E(t *testing.T, build func(*config.Config) []scenarios.Scenario, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd(build)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAllScenariosHaveUniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range allScenarios(config.DefaultConfig()) {
		assert.False(t, seen[s.Name()], "duplicate scenario %s", s.Name())
		seen[s.Name()] = true
		assert.NotEmpty(t, s.Description())
	}
	assert.Len(t, seen, 3)
}

func TestSelectScenarios(t *testing.T) {
	a, b := &fakeScenario{name: "a"}, &fakeScenario{name: "b"}
	all := []scenarios.Scenario{a, b}

	got, err := selectScenarios(all, nil)
	require.NoError(t, err)
	assert.Equal(t, all, got)

	got, err = selectScenarios(all, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []scenarios.Scenario{b, a}, got)

	_, err = selectScenarios(all, []string{"c"})
	assert.ErrorContains(t, err, `unknown scenario "c"`)
}

func TestRunScenario(t *testing.T) {
	tests := []struct {
		name        string
		scenario    *fakeScenario
		wantSuccess bool
		wantError   string
		wantWarning bool
	}{
		{name: "passes", scenario: &fakeScenario{name: "ok"}, wantSuccess: true},
		{name: "stage fails", scenario: &fakeScenario{name: "s", stageErr: errors.New("3 attempts")}, wantError: "invoke: 3 attempts"},
		{name: "setup fails", scenario: &fakeScenario{name: "s", setupErr: errors.New("no nats")}, wantError: "setup: no nats"},
		{name: "execute errors", scenario: &fakeScenario{name: "s", execErr: errors.New("boom")}, wantError: "execute: boom"},
		{name: "teardown warns", scenario: &fakeScenario{name: "s", teardownErr: errors.New("drain")}, wantSuccess: true, wantWarning: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runScenario(context.Background(), tt.scenario, time.Minute)

			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.True(t, tt.scenario.tornDown)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, res.Error)
			}
			if tt.wantWarning {
				assert.Len(t, res.Warnings, 1)
			}
			if tt.scenario.setupErr == nil {
				assert.True(t, tt.scenario.deadline, "execute runs under the scenario timeout")
			}
		})
	}
}

func TestRootCmd_TextReport(t *testing.T) {
	build := fakeBuild(
		&fakeScenario{name: "good"},
		&fakeScenario{name: "bad", stageErr: errors.New("exhausted retries after 3 attempt(s)")},
	)

	out, err := runE2E(t, build)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 scenario(s) failed")
	assert.Contains(t, out, "PASS good")
	assert.Contains(t, out, "FAIL bad")
	assert.Contains(t, out, "exhausted retries after 3 attempt(s)")
	assert.Contains(t, out, "2 scenario(s): 1 passed, 1 failed")
}

func TestRootCmd_JSONReport(t *testing.T) {
	out, err := runE2E(t, fakeBuild(&fakeScenario{name: "good"}, &fakeScenario{name: "other"}), "good", "--json")
	require.NoError(t, err)

	var rep struct {
		Passed  int `json:"passed"`
		Failed  int `json:"failed"`
		Results []struct {
			ScenarioName string `json:"scenario_name"`
			Success      bool   `json:"success"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 0, rep.Failed)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, "good", rep.Results[0].ScenarioName)
	assert.True(t, rep.Results[0].Success)
}

func TestRootCmd_UnknownScenario(t *testing.T) {
	_, err := runE2E(t, fakeBuild(&fakeScenario{name: "good"}), "missing")
	assert.ErrorContains(t, err, `unknown scenario "missing"`)
}

func TestListCmd(t *testing.T) {
	out, err := runE2E(t, fakeBuild(&fakeScenario{name: "good"}, &fakeScenario{name: "other"}), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "good")
	assert.Contains(t, out, "fake other")
}
