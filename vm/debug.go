package vm

import (
	"github.com/davecgh/go-spew/spew"

	"github.com/greenvm/greenvm/process"
	"github.com/greenvm/greenvm/values"
)

// DumpContext renders a Context's registers and locals for diagnostics,
// grounded on the teacher's DebugMode verbose-trace facility (vm.go's
// DebugMode/debugLevel fields) generalized to this VM's register/binding
// layout. It is never called from the hot interpreter path; callers reach
// for it only when a FatalError needs to be logged with full frame state.
func DumpContext(ctx *process.Context) string {
	if ctx == nil {
		return "<nil context>"
	}
	return spew.Sdump(struct {
		Code      string
		IP        int
		Registers []interface{}
		Locals    []interface{}
	}{
		Code:      ctx.Code.Name,
		IP:        ctx.IP,
		Registers: toInterfaceSlice(ctx.Registers),
		Locals:    toInterfaceSlice(ctx.Binding.Locals),
	})
}

func toInterfaceSlice(vs []values.Value) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}
