package core

import (
	"testing"

	"github.com/codymaki/Bokudos-stagebuilder/testutil"
)

func TestCoreDoesNotImportOuterLayers(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.ModuleImportForbidden("internal/adapters", "internal/telemetry", "cmd"),
		"services are wired from the outside")
}
