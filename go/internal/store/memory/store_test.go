package memory

import (
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/codebid/go/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return New(clockwork.NewRealClock())
	})
}
