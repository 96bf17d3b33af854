package memory

import (
	"testing"

	"github.com/viant/gatekeeper/service/dao/instance"
	"github.com/viant/gatekeeper/service/dao/instance/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) instance.Store { return New() })
}
