package memory

import (
	"testing"

	"obsstore/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertImportsWithin(t, ".", "obsstore/pkg/domain")
	testutil.AssertNoDirectImport(t, ".", testutil.StorageDriverImport, "memory gateway must not reach a database driver")
}
