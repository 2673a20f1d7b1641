package sessions

import (
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	POST(path string, body any, headers map[string]string) error
	OperatorHeaders() map[string]string
	GetLastResponseBody() []byte
}

// RegisterSteps registers operator lookups of sessions and verifications
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &sessionSteps{tc: tc}

	ctx.Step(`^I request the session expiration stats$`, steps.requestStats)
	ctx.Step(`^the stats should report non-negative counts$`, steps.statsShouldBeNonNegative)
	ctx.Step(`^I look up session "([^"]*)"$`, steps.lookUpSession)
	ctx.Step(`^I terminate session "([^"]*)"$`, steps.terminateSession)
	ctx.Step(`^I look up verification "([^"]*)"$`, steps.lookUpVerification)
	ctx.Step(`^I force manual review of verification "([^"]*)" because "([^"]*)"$`, steps.forceManualReview)
}

type sessionSteps struct {
	tc TestContext
}

func (s *sessionSteps) requestStats() error {
	return s.tc.GET("/sessions/stats", s.tc.OperatorHeaders())
}

func (s *sessionSteps) statsShouldBeNonNegative() error {
	var stats map[string]int
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &stats); err != nil {
		return fmt.Errorf("stats response is not a counter object: %w", err)
	}
	for _, key := range []string{"total", "active", "expired", "terminated", "expiring_soon"} {
		n, ok := stats[key]
		if !ok {
			return fmt.Errorf("stats missing %q", key)
		}
		if n < 0 {
			return fmt.Errorf("stats %q is negative: %d", key, n)
		}
	}
	return nil
}

func (s *sessionSteps) lookUpSession(token string) error {
	return s.tc.GET("/sessions/"+token, s.tc.OperatorHeaders())
}

func (s *sessionSteps) terminateSession(token string) error {
	return s.tc.POST("/sessions/"+token+"/terminate", nil, s.tc.OperatorHeaders())
}

func (s *sessionSteps) lookUpVerification(verificationID string) error {
	return s.tc.GET("/verifications/"+verificationID, s.tc.OperatorHeaders())
}

func (s *sessionSteps) forceManualReview(verificationID, reason string) error {
	return s.tc.POST("/verifications/"+verificationID+"/manual-review",
		map[string]string{"reason": reason}, s.tc.OperatorHeaders())
}
