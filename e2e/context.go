// Package e2e drives a running verigate process over its ops listener.
//
// Run with VERIGATE_E2E_BASE_URL pointing at the listener and
// VERIGATE_E2E_OPS_TOKEN set to the operator token the process was
// started with.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// TestContext holds the last response of a scenario.
type TestContext struct {
	BaseURL  string
	OpsToken string
	client   *http.Client

	lastStatus int
	lastBody   []byte
}

func NewTestContext(baseURL, opsToken string) *TestContext {
	return &TestContext{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		OpsToken: opsToken,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (tc *TestContext) reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) POST(path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	return tc.do(http.MethodPost, path, reader, headers)
}

// OperatorHeaders returns the headers the admin middleware expects.
func (tc *TestContext) OperatorHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + tc.OpsToken,
		"X-Operator":    "e2e",
	}
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

// GetResponseField reads a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	value, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not found in response", field)
	}
	return value, nil
}

func (tc *TestContext) do(method, path string, body io.Reader, headers map[string]string) error {
	req, err := http.NewRequest(method, tc.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func registerCommonSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Before(func(c context.Context, _ *godog.Scenario) (context.Context, error) {
		tc.reset()
		return c, nil
	})
	ctx.Step(`^the response status should be (\d+)$`, func(expected int) error {
		if tc.lastStatus != expected {
			return fmt.Errorf("expected status %d, got %d: %s", expected, tc.lastStatus, tc.lastBody)
		}
		return nil
	})
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, func(field, expected string) error {
		value, err := tc.GetResponseField(field)
		if err != nil {
			return err
		}
		if fmt.Sprint(value) != expected {
			return fmt.Errorf("expected %s=%q, got %v", field, expected, value)
		}
		return nil
	})
}
