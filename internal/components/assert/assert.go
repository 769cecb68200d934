// Package assert panics on programmer errors such as a dependency that was never wired.
package assert

import (
	"fmt"
	"reflect"
)

func describe(name []string) string {
	if len(name) == 0 {
		return "value"
	}
	return fmt.Sprintf("%q", name[0])
}

// isNil also catches typed nils, a nil *Client stored in an interface is not == nil.
func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func NotNil(value any, name ...string) {
	if isNil(value) {
		panic(fmt.Sprintf("expected %s to be not nil", describe(name)))
	}
}

func NotEmptyStr(str string, name ...string) {
	if str == "" {
		panic(fmt.Sprintf("expected %s to be a non-empty string", describe(name)))
	}
}
