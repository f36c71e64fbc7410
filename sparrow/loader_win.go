//go:build windows
// +build windows

package sparrow

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/Alex-PLACET/sparrow-go-bridge/bridge"
)

// Engine is the FFI surface of an external helper library that produces and
// consumes descriptor pairs on its side of the boundary.
type Engine struct {
	lib    *syscall.DLL
	helper *syscall.DLL

	initRuntime     *syscall.Proc
	createTestArray *syscall.Proc
	roundtripArray  *syscall.Proc
	verifyArraySize *syscall.Proc
}

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

	lib, err := syscall.LoadDLL(enginePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load library %s: %w", enginePath, err)
	}
	helper, err := syscall.LoadDLL(helperPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load library %s: %w", helperPath, err)
	}

	e := &Engine{lib: lib, helper: helper}
	if e.initRuntime, err = helper.FindProc("init_python"); err != nil {
		return nil, fmt.Errorf("failed to find init_python: %w", err)
	}
	if e.createTestArray, err = helper.FindProc("create_test_array_as_pointers"); err != nil {
		return nil, fmt.Errorf("failed to find create_test_array_as_pointers: %w", err)
	}
	if e.roundtripArray, err = helper.FindProc("roundtrip_array_pointers"); err != nil {
		return nil, fmt.Errorf("failed to find roundtrip_array_pointers: %w", err)
	}
	if e.verifyArraySize, err = helper.FindProc("verify_array_size_from_pointers"); err != nil {
		return nil, fmt.Errorf("failed to find verify_array_size_from_pointers: %w", err)
	}
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
	e.initRuntime.Call()
}

// CreateTestArray asks the helper to build its test array and hand back the
// descriptor pair. The caller owns both descriptors.
func (e *Engine) CreateTestArray() (schemaAddr, arrayAddr uintptr, status bridge.Status) {
	var s, a uintptr
	ret, _, _ := e.createTestArray.Call(
		uintptr(unsafe.Pointer(&s)),
		uintptr(unsafe.Pointer(&a)),
	)
	return s, a, bridge.Status(int32(ret))
}

// RoundtripArray passes the pair through the helper and returns the pair it
// re-exports. On success the helper has consumed the inputs.
func (e *Engine) RoundtripArray(schemaAddr, arrayAddr uintptr) (outSchema, outArray uintptr, status bridge.Status) {
	var s, a uintptr
	ret, _, _ := e.roundtripArray.Call(
		schemaAddr,
		arrayAddr,
		uintptr(unsafe.Pointer(&s)),
		uintptr(unsafe.Pointer(&a)),
	)
	return s, a, bridge.Status(int32(ret))
}

// VerifyArraySize has the helper import the pair and check its length.
func (e *Engine) VerifyArraySize(schemaAddr, arrayAddr uintptr, expected int) bridge.Status {
	ret, _, _ := e.verifyArraySize.Call(schemaAddr, arrayAddr, uintptr(expected))
	return bridge.Status(int32(ret))
}
