package e2e

import (
	"github.com/cucumber/godog"

	"verigate/e2e/steps/ops"
	"verigate/e2e/steps/sessions"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	registerCommonSteps(ctx, tc)

	// Health, metrics and operator auth
	ops.RegisterSteps(ctx, tc)

	// Session and verification lookups
	sessions.RegisterSteps(ctx, tc)
}
