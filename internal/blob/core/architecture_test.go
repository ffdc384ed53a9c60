package core

import (
	"testing"

	"github.com/codymaki/Bokudos-stagebuilder/testutil"
)

func TestBlobContractDoesNotImportBackends(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "backends depend on the contract, not the reverse")
}
