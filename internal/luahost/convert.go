// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package luahost

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// luaToGo converts a Lua value into the map/slice/scalar shapes the rest
// of the mesh works with. Tables with consecutive integer keys starting at
// 1 become slices; everything else becomes a string-keyed map.
func luaToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(v.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			out[k.String()] = luaToGo(val)
		})
		return out
	default:
		return v.String()
	}
}

// goToLua converts a payload value into a Lua value on the given state.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, inner := range val {
			t.RawSetString(k, goToLua(L, inner))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, inner := range val {
			t.Append(goToLua(L, inner))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
