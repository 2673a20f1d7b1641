package ops

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	OperatorHeaders() map[string]string
	GetLastResponseBody() []byte
}

// RegisterSteps registers health, metrics and operator auth steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &opsSteps{tc: tc}

	ctx.Step(`^I check the service health$`, steps.checkHealth)
	ctx.Step(`^I scrape the metrics endpoint$`, steps.scrapeMetrics)
	ctx.Step(`^the metrics should include "([^"]*)"$`, steps.metricsShouldInclude)
	ctx.Step(`^I GET "([^"]*)" without an operator token$`, steps.getWithoutToken)
	ctx.Step(`^I GET "([^"]*)" with a wrong operator token$`, steps.getWithWrongToken)
}

type opsSteps struct {
	tc TestContext
}

func (s *opsSteps) checkHealth() error {
	return s.tc.GET("/healthz", nil)
}

func (s *opsSteps) scrapeMetrics() error {
	return s.tc.GET("/metrics", nil)
}

func (s *opsSteps) metricsShouldInclude(name string) error {
	if !strings.Contains(string(s.tc.GetLastResponseBody()), name) {
		return fmt.Errorf("metric %q not exposed", name)
	}
	return nil
}

func (s *opsSteps) getWithoutToken(path string) error {
	return s.tc.GET(path, nil)
}

func (s *opsSteps) getWithWrongToken(path string) error {
	return s.tc.GET(path, map[string]string{"Authorization": "Bearer not-the-token"})
}
