//go:build !windows
// +build !windows

package sparrow

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ebitengine/purego"

	"github.com/Alex-PLACET/sparrow-go-bridge/bridge"
)

// Engine is the FFI surface of an external helper library that produces and
// consumes descriptor pairs on its side of the boundary. The engine library
// (the interpreter runtime the helper links against) is loaded first with
// global symbol visibility so the helper can resolve it.
type Engine struct {
	lib    uintptr
	helper uintptr

	initRuntime     func()
	createTestArray func(*uintptr, *uintptr) int32
	roundtripArray  func(uintptr, uintptr, *uintptr, *uintptr) int32
	verifyArraySize func(uintptr, uintptr, uintptr) int32
}

// Environment variables naming the two libraries when no explicit paths are
// given.
const (
	engineLibEnv = "SPARROW_BRIDGE_LIB"
	helperLibEnv = "SPARROW_HELPER_LIB"
)

// CheckLibraries reports whether both libraries can be located without
// loading them. Tests use it to skip when the environment has no engine.
func CheckLibraries() error {
	for _, env := range []string{engineLibEnv, helperLibEnv} {
		path := os.Getenv(env)
		if path == "" {
			return fmt.Errorf("%s not set", env)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("library not found: %s", path)
		}
	}
	return nil
}

// LoadEngine loads the engine and helper libraries and resolves the boundary
// symbols. Empty paths fall back to the environment variables and then to the
// platform library name next to the executable.
func LoadEngine(enginePath, helperPath string) (*Engine, error) {
	var err error
	if enginePath, err = resolveLibPath(enginePath, engineLibEnv, getEngineLibName()); err != nil {
		return nil, err
	}
	if helperPath, err = resolveLibPath(helperPath, helperLibEnv, getHelperLibName()); err != nil {
		return nil, err
	}

	// RTLD_GLOBAL so the helper sees the engine's symbols
	lib, err := purego.Dlopen(enginePath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("failed to load library %s: %w", enginePath, err)
	}
	helper, err := purego.Dlopen(helperPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("failed to load library %s: %w", helperPath, err)
	}

	e := &Engine{lib: lib, helper: helper}
	purego.RegisterLibFunc(&e.initRuntime, helper, "init_python")
	purego.RegisterLibFunc(&e.createTestArray, helper, "create_test_array_as_pointers")
	purego.RegisterLibFunc(&e.roundtripArray, helper, "roundtrip_array_pointers")
	purego.RegisterLibFunc(&e.verifyArraySize, helper, "verify_array_size_from_pointers")
	return e, nil
}

func resolveLibPath(path, env, defName string) (string, error) {
	if path == "" {
		path = os.Getenv(env)
	}
	if path == "" {
		exePath, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to get executable path: %w", err)
		}
		path = filepath.Join(filepath.Dir(exePath), defName)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("library not found: %s", path)
	}
	return path, nil
}

func getEngineLibName() string {
	switch runtime.GOOS {
	case "windows":
		return "sparrow_bridge.dll"
	case "darwin":
		return "libsparrow_bridge.dylib"
	default:
		return "libsparrow_bridge.so"
	}
}

func getHelperLibName() string {
	switch runtime.GOOS {
	case "windows":
		return "sparrow_helper.dll"
	case "darwin":
		return "libsparrow_helper.dylib"
	default:
		return "libsparrow_helper.so"
	}
}

// InitRuntime initializes the helper's embedded interpreter. Call once before
// the other operations.
func (e *Engine) InitRuntime() {
	e.initRuntime()
}

// CreateTestArray asks the helper to build its test array and hand back the
// descriptor pair. The caller owns both descriptors.
func (e *Engine) CreateTestArray() (schemaAddr, arrayAddr uintptr, status bridge.Status) {
	var s, a uintptr
	ret := e.createTestArray(&s, &a)
	return s, a, bridge.Status(ret)
}

// RoundtripArray passes the pair through the helper and returns the pair it
// re-exports. On success the helper has consumed the inputs.
func (e *Engine) RoundtripArray(schemaAddr, arrayAddr uintptr) (outSchema, outArray uintptr, status bridge.Status) {
	var s, a uintptr
	ret := e.roundtripArray(schemaAddr, arrayAddr, &s, &a)
	return s, a, bridge.Status(ret)
}

// VerifyArraySize has the helper import the pair and check its length.
func (e *Engine) VerifyArraySize(schemaAddr, arrayAddr uintptr, expected int) bridge.Status {
	return bridge.Status(e.verifyArraySize(schemaAddr, arrayAddr, uintptr(expected)))
}
