// Package cucumber provides a small godog harness for BDD suites that drive
// the daemon in-process and through its management HTTP API.
//
// Variables are scoped to the scenario. Scenarios run one at a time because
// they share process-wide state such as the metrics registry.
package cucumber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
)

func NewTestSuite() *TestSuite {
	return &TestSuite{Extra: map[string]any{}}
}

func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
		Strict:      true,
	}
}

// ApplyReportOptions configures junit XML output when GODOG_REPORT_DIR is set.
// Pass t.Name() as testName; slashes are replaced with dashes to form the filename.
// Returns a cleanup function that must be called (or deferred) after the test runs.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	reportDir := os.Getenv("GODOG_REPORT_DIR")
	if reportDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return func() {}
	}
	safeName := strings.ReplaceAll(testName, "/", "-")
	f, err := os.Create(filepath.Join(reportDir, safeName+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestSuite holds state global to all test scenarios.
type TestSuite struct {
	TestingT *testing.T
	Extra    map[string]any
}

// TestScenario holds state for a single scenario.
type TestScenario struct {
	Suite *TestSuite
	// APIURL is the management API base URL. Step modules set it in a Before hook.
	APIURL    string
	Client    *http.Client
	Variables map[string]any

	RespCode  int
	RespBytes []byte
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

// Expand replaces ${var} in value with scenario variables.
func (s *TestScenario) Expand(value string) (result string, rerr error) {
	return os.Expand(value, func(name string) string {
		v, ok := s.Variables[name]
		if !ok {
			rerr = fmt.Errorf("variable ${%s} not defined", name)
			return ""
		}
		return fmt.Sprint(v)
	}), rerr
}

// JSONMustContain checks that every field in expected is present in actual.
func (s *TestScenario) JSONMustContain(actual, expected string) error {
	var actualParsed any
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	expected, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if strings.TrimSpace(expected) == "" {
		return fmt.Errorf("expected json not specified, actual json was:\n%s", actual)
	}
	var expectedParsed any
	if err := json.Unmarshal([]byte(expected), &expectedParsed); err != nil {
		return fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expected)
	}
	if err := jsonSubset(expectedParsed, actualParsed, ""); err != nil {
		expectedIndented, _ := json.MarshalIndent(expectedParsed, "", "  ")
		actualIndented, _ := json.MarshalIndent(actualParsed, "", "  ")
		return fmt.Errorf("actual does not contain expected.\n  mismatch: %s\n  expected:\n%s\n  actual:\n%s",
			err, expectedIndented, actualIndented)
	}
	return nil
}

// jsonSubset checks that every field in expected exists in actual with a matching value.
// Objects may carry extra keys; arrays must match in length.
func jsonSubset(expected, actual any, path string) error {
	if expected == nil {
		if actual != nil {
			return fmt.Errorf("at %s: expected null, got %v", pathOrRoot(path), actual)
		}
		return nil
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", pathOrRoot(path), actual)
		}
		for key, expVal := range exp {
			actVal, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", pathOrRoot(path), key)
			}
			if err := jsonSubset(expVal, actVal, path+"."+key); err != nil {
				return err
			}
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", pathOrRoot(path), actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected array length %d, got %d", pathOrRoot(path), len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(expected, actual) {
			return fmt.Errorf("at %s: expected %v (%T), got %v (%T)", pathOrRoot(path), expected, expected, actual, actual)
		}
	}
	return nil
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return "$" + path
}

// StepModules is the list of functions used to register steps with a godog.ScenarioContext.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Client:    &http.Client{Timeout: 30 * time.Second},
		Variables: map[string]any{},
	}
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		s.Client.CloseIdleConnections()
		return ctx, nil
	})
	for _, module := range StepModules {
		module(ctx, s)
	}
}
