package luavm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"
)

// luaToGo converts the value at index into plain Go values that encode to
// JSON: string, float64, bool, nil, []any for sequences and map[string]any
// for every other table. Functions and userdata cannot be saved.
func luaToGo(state *lua.State, index int, depth int) (any, error) {
	if depth > 64 {
		return nil, fmt.Errorf("state nested too deeply")
	}
	switch state.TypeOf(index) {
	case lua.TypeNil:
		return nil, nil
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value, nil
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		if math.IsInf(value, 0) || math.IsNaN(value) {
			return nil, fmt.Errorf("cannot save number %v", value)
		}
		return value, nil
	case lua.TypeBoolean:
		return state.ToBoolean(index), nil
	case lua.TypeTable:
		return tableToGo(state, index, depth)
	default:
		return nil, fmt.Errorf("cannot save a %s", lua.TypeNameOf(state, index))
	}
}

func tableToGo(state *lua.State, index int, depth int) (any, error) {
	index = state.AbsIndex(index)

	record := map[string]any{}
	numbers := map[float64]any{}
	state.PushNil()
	for state.Next(index) {
		value, err := luaToGo(state, -1, depth+1)
		if err != nil {
			state.Pop(2)
			return nil, err
		}

		switch state.TypeOf(-2) {
		case lua.TypeString:
			key, _ := state.ToString(-2)
			record[escapeKey(key)] = value
		case lua.TypeNumber:
			// ToString would convert the key in place and break Next.
			n, _ := state.ToNumber(-2)
			numbers[n] = value
		default:
			kind := lua.TypeNameOf(state, -2)
			state.Pop(2)
			return nil, fmt.Errorf("cannot save a table key of type %s", kind)
		}
		state.Pop(1)
	}

	if len(record) == 0 && len(numbers) > 0 && isSequence(numbers) {
		out := make([]any, len(numbers))
		for i := range out {
			out[i] = numbers[float64(i+1)]
		}
		return out, nil
	}

	for n, value := range numbers {
		record[numberKey+strconv.FormatFloat(n, 'g', -1, 64)] = value
	}
	return record, nil
}

func isSequence(numbers map[float64]any) bool {
	for i := 1; i <= len(numbers); i++ {
		if _, ok := numbers[float64(i)]; !ok {
			return false
		}
	}
	return true
}

// Object keys carry their Lua type: "#" followed by a number is a numeric
// key, and string keys that start with "#" get a second one.
const numberKey = "#"

func escapeKey(key string) string {
	if strings.HasPrefix(key, numberKey) {
		return numberKey + key
	}
	return key
}

// pushKey pushes the Lua key an object key stands for.
func pushKey(state *lua.State, key string) {
	switch {
	case strings.HasPrefix(key, numberKey+numberKey):
		state.PushString(key[len(numberKey):])
	case strings.HasPrefix(key, numberKey):
		if n, err := strconv.ParseFloat(key[len(numberKey):], 64); err == nil {
			state.PushNumber(n)
			return
		}
		state.PushString(key)
	default:
		state.PushString(key)
	}
}

// pushGo pushes a value produced by encoding/json onto the stack.
func pushGo(state *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		state.PushNil()
	case string:
		state.PushString(v)
	case float64:
		state.PushNumber(v)
	case bool:
		state.PushBoolean(v)
	case []any:
		state.CreateTable(len(v), 0)
		for i, item := range v {
			pushGo(state, item)
			state.RawSetInt(-2, i+1)
		}
	case map[string]any:
		state.CreateTable(0, len(v))
		for key, item := range v {
			pushKey(state, key)
			pushGo(state, item)
			state.RawSet(-3)
		}
	default:
		state.PushNil()
	}
}
