package cucumber

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)" with json body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
	})
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, jsonTxt *godog.DocString) error {
	if s.APIURL == "" {
		return fmt.Errorf("no API URL configured for this scenario")
	}
	path, err := s.Expand(path)
	if err != nil {
		return err
	}
	var body io.Reader
	if jsonTxt != nil {
		expanded, err := s.Expand(jsonTxt.Content)
		if err != nil {
			return err
		}
		body = bytes.NewBufferString(expanded)
	}
	req, err := http.NewRequest(method, s.APIURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	s.RespBytes, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	s.RespCode = resp.StatusCode
	return nil
}

func (s *TestScenario) theResponseCodeShouldBe(expected string) error {
	code, err := strconv.Atoi(expected)
	if err != nil {
		return err
	}
	if s.RespCode != code {
		return fmt.Errorf("expected response code %d, got %d; body:\n%s", code, s.RespCode, s.RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseShouldContainJSON(expected *godog.DocString) error {
	return s.JSONMustContain(string(s.RespBytes), expected.Content)
}
