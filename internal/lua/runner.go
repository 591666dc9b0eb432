// Package lua runs user-supplied Lua predicates against model output.
package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// CheckResult is the verdict of a check script.
type CheckResult struct {
	Pass    bool
	Message string
}

// RunCheck runs script, which must define a global function check(text),
// and calls it with text. check may return:
//   - a boolean
//   - a boolean and a message string
//   - a table { pass = <bool>, message = <string> }
//
// Scripts run with only the base, string, table and math libraries loaded
// and are interrupted when ctx is done.
func RunCheck(ctx context.Context, script, text string) (*CheckResult, error) {
	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer lState.Close()
	openSafeLibs(lState)
	lState.SetContext(ctx)

	if err := lState.DoString(script); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("check")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function check(text)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("check must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(lua.LString(text))
	if err := lState.PCall(1, 2, nil); err != nil {
		return nil, fmt.Errorf("check(): %w", err)
	}

	ret := lState.Get(-2)
	msg := lState.Get(-1)
	lState.Pop(2)

	switch ret.Type() {
	case lua.LTBool:
		res := &CheckResult{Pass: ret == lua.LTrue}
		if msg.Type() == lua.LTString {
			res.Message = msg.String()
		}
		return res, nil
	case lua.LTTable:
		tbl := ret.(*lua.LTable)
		res := &CheckResult{}
		passSet := false
		tbl.ForEach(func(k, v lua.LValue) {
			if k.String() == "pass" && v.Type() == lua.LTBool {
				res.Pass = v == lua.LTrue
				passSet = true
			}
			if k.String() == "message" && v.Type() == lua.LTString {
				res.Message = v.String()
			}
		})
		if !passSet {
			return nil, fmt.Errorf("check() table must set pass to a boolean")
		}
		return res, nil
	default:
		return nil, fmt.Errorf("check() must return boolean or table { pass, message }, got %s", ret.Type().String())
	}
}

func openSafeLibs(lState *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		lState.Push(lState.NewFunction(lib.fn))
		lState.Push(lua.LString(lib.name))
		lState.Call(1, 0)
	}
	// The base library can load code from disk.
	for _, name := range []string{"dofile", "loadfile", "require"} {
		lState.SetGlobal(name, lua.LNil)
	}
}
