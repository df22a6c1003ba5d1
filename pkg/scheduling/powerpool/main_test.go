package powerpool

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that disposed pools leave no worker goroutines behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
