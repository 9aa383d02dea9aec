package emulator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/shell"
)

type fakeProcess struct {
	mu     sync.Mutex
	killed bool
}

func (p *fakeProcess) Pid() int { return 4242 }
func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func testClient(f *shell.Fake, proc *fakeProcess, started *[]string) *Client {
	c := NewClient(f, func(name string, args ...string) (Process, error) {
		if started != nil {
			*started = append(*started, args...)
		}
		return proc, nil
	})
	c.emulatorPath = "/sdk/emulator/emulator"
	c.pollInterval = time.Millisecond
	return c
}

func bootedFake() *shell.Fake {
	return shell.NewFake().
		OnOutput("adb -s emulator-5554 get-state", "device\n").
		OnOutput("adb -s emulator-5554 shell getprop sys.boot_completed", "1\n").
		OnOutput("adb -s emulator-5554 shell settings list global", "").
		OnOutput("adb -s emulator-5554 shell pm get-max-users", "Maximum supported users: 4\n")
}

func TestIsEmulator(t *testing.T) {
	tests := []struct {
		serial string
		want   bool
	}{
		{"emulator-5554", true},
		{"emulator-5556", true},
		{"R58M123ABC", false},
		{"192.168.1.100:5555", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.serial, func(t *testing.T) {
			if got := IsEmulator(tt.serial); got != tt.want {
				t.Errorf("IsEmulator(%q) = %v, want %v", tt.serial, got, tt.want)
			}
		})
	}
}

func TestGetAndroidHome(t *testing.T) {
	t.Setenv("ANDROID_HOME", "")
	t.Setenv("ANDROID_SDK_ROOT", "/sdk/root")
	t.Setenv("ANDROID_SDK_HOME", "/sdk/home")
	if got := getAndroidHome(); got != "/sdk/root" {
		t.Errorf("getAndroidHome() = %q, want /sdk/root", got)
	}

	t.Setenv("ANDROID_HOME", "/sdk/android")
	if got := getAndroidHome(); got != "/sdk/android" {
		t.Errorf("getAndroidHome() = %q, want /sdk/android", got)
	}
}

func TestFindEmulatorBinary_Layouts(t *testing.T) {
	for _, layout := range []string{filepath.Join("emulator", "emulator"), filepath.Join("tools", "emulator")} {
		t.Run(layout, func(t *testing.T) {
			home := t.TempDir()
			path := filepath.Join(home, layout)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
				t.Fatal(err)
			}
			t.Setenv("ANDROID_HOME", home)

			got, err := FindEmulatorBinary()
			if err != nil {
				t.Fatal(err)
			}
			if got != path {
				t.Errorf("FindEmulatorBinary() = %q, want %q", got, path)
			}
		})
	}
}

func TestBootStatus_IsFullyReady(t *testing.T) {
	tests := []struct {
		name   string
		status BootStatus
		want   bool
	}{
		{"all ready", BootStatus{true, true, true, true}, true},
		{"state only", BootStatus{StateReady: true}, false},
		{"no pm", BootStatus{true, true, true, false}, false},
		{"none", BootStatus{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsFullyReady(); got != tt.want {
				t.Errorf("IsFullyReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckBootStatus_StopsWhenOffline(t *testing.T) {
	f := shell.NewFake().On("adb -s emulator-5554 get-state", shell.Response{Err: errors.New("exit 1"), Stderr: "device offline"})
	status := testClient(f, nil, nil).CheckBootStatus(context.Background(), "emulator-5554")
	if status.StateReady {
		t.Error("StateReady = true for offline device")
	}
	if f.Called("adb -s emulator-5554 shell") {
		t.Error("shell checks should not run before the device is attached")
	}
}

func TestListAVDs(t *testing.T) {
	f := shell.NewFake().
		OnOutput("/sdk/emulator/emulator -list-avds", "INFO    | Storing crashdata\nPixel_7_API_34\nPixel_Tablet\n").
		OnOutput("adb devices", "List of devices attached\nemulator-5554\tdevice\nR58M\tdevice\n").
		OnOutput("adb -s emulator-5554 emu avd name", "Pixel_7_API_34\nOK\n")

	avds, err := testClient(f, nil, nil).ListAVDs(context.Background())
	if err != nil {
		t.Fatalf("ListAVDs() error = %v", err)
	}
	if len(avds) != 2 {
		t.Fatalf("len(avds) = %d, want 2", len(avds))
	}
	if !avds[0].IsRunning || avds[0].Serial != "emulator-5554" {
		t.Errorf("avds[0] = %+v, want running on emulator-5554", avds[0])
	}
	if avds[1].IsRunning {
		t.Errorf("avds[1] = %+v, want not running", avds[1])
	}
}

func TestConnectedSerials(t *testing.T) {
	f := shell.NewFake().OnOutput("adb devices", "List of devices attached\nemulator-5554\tdevice\nemulator-5556\toffline\nR58M\tdevice\n\n")
	serials, err := testClient(f, nil, nil).ConnectedSerials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(serials) != 2 || serials[0] != "emulator-5554" || serials[1] != "R58M" {
		t.Errorf("ConnectedSerials() = %v", serials)
	}
}

func TestStartEmulator(t *testing.T) {
	var args []string
	proc := &fakeProcess{}
	c := testClient(bootedFake(), proc, &args)

	serial, p, err := c.StartEmulator(context.Background(), "Pixel_7_API_34", 5554, time.Second)
	if err != nil {
		t.Fatalf("StartEmulator() error = %v", err)
	}
	if serial != "emulator-5554" || p != proc {
		t.Errorf("StartEmulator() = %q, %v", serial, p)
	}
	if len(args) < 4 || args[1] != "Pixel_7_API_34" || args[3] != "5554" {
		t.Errorf("emulator args = %v", args)
	}
}

func TestStartEmulator_KillsOnStateTimeout(t *testing.T) {
	f := shell.NewFake().On("adb -s emulator-5554 get-state", shell.Response{Err: errors.New("exit 1")})
	proc := &fakeProcess{}
	c := testClient(f, proc, nil)

	_, _, err := c.StartEmulator(context.Background(), "Pixel", 5554, 5*time.Millisecond)
	if !errors.Is(err, core.ErrDeviceTimeout) {
		t.Errorf("error = %v, want ErrDeviceTimeout", err)
	}
	if !proc.wasKilled() {
		t.Error("process not killed after failed boot")
	}
}

func TestShutdownEmulator(t *testing.T) {
	f := shell.NewFake().
		OnOutput("adb -s emulator-5554 emu kill", "OK\n").
		On("adb -s emulator-5554 get-state", shell.Response{Err: errors.New("not found")})
	proc := &fakeProcess{}

	if err := testClient(f, proc, nil).ShutdownEmulator(context.Background(), "emulator-5554", proc, time.Second); err != nil {
		t.Fatalf("ShutdownEmulator() error = %v", err)
	}
	if proc.wasKilled() {
		t.Error("process killed although adb emu kill succeeded")
	}
}

func TestShutdownEmulator_ForceKill(t *testing.T) {
	f := shell.NewFake().
		OnOutput("adb -s emulator-5554 emu kill", "").
		OnOutput("adb -s emulator-5554 get-state", "device\n")
	proc := &fakeProcess{}

	if err := testClient(f, proc, nil).ShutdownEmulator(context.Background(), "emulator-5554", proc, 5*time.Millisecond); err != nil {
		t.Fatalf("ShutdownEmulator() error = %v", err)
	}
	if !proc.wasKilled() {
		t.Error("process not killed after shutdown timeout")
	}
}

func TestShutdownEmulator_NoProcess(t *testing.T) {
	f := shell.NewFake().
		OnOutput("adb -s emulator-5554 emu kill", "").
		OnOutput("adb -s emulator-5554 get-state", "device\n")
	err := testClient(f, nil, nil).ShutdownEmulator(context.Background(), "emulator-5554", nil, 5*time.Millisecond)
	if !errors.Is(err, core.ErrDeviceTimeout) {
		t.Errorf("error = %v, want ErrDeviceTimeout", err)
	}
}
