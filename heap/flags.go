package heap

import "github.com/vkngwrapper/core/v2/common"

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that this heap will not be synchronized internally. The
	// consumer must guarantee that Allocate, Free, Statistics and the other methods that read
	// allocation state are called from only one goroutine at a time or are synchronized by some
	// other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}
