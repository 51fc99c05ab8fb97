package concurrency

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestBarrierCrossOnce(t *testing.T) {
	t.Parallel()
	var b Barrier
	if b.Crossed() {
		t.Fatal("zero barrier reports crossed")
	}
	if !b.Cross() {
		t.Fatal("first Cross() = false, want true")
	}
	if b.Cross() {
		t.Fatal("second Cross() = true, want false")
	}
	if !b.Crossed() {
		t.Fatal("Crossed() = false after Cross")
	}
}

func TestNewTaskBeforeSetupPanics(t *testing.T) {
	t.Parallel()
	var b Barrier
	ctl := NewController(Config{}, WithBarrier(&b))

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrNotSetup) {
			t.Fatalf("panic = %v, want ErrNotSetup", r)
		}
		if ctl.Len() != 0 {
			t.Fatalf("Len() = %d, want 0", ctl.Len())
		}
	}()
	ctl.NewTask("early", time.Second, RunnerFunc(func(*Task) time.Duration { return RunSame }))
}

func TestMainControllerAfterSetup(t *testing.T) {
	MarkSetup()
	if !HasBeenSetup() {
		t.Fatal("HasBeenSetup() = false after MarkSetup")
	}
	AssertIsSetup()

	a := MainController()
	if a != MainController() {
		t.Fatal("MainController returned different instances")
	}
	if a.Name() != "mainController" {
		t.Fatalf("Name() = %q, want mainController", a.Name())
	}

	task := NewTask("main-task", time.Second, RunnerFunc(func(*Task) time.Duration { return RunSame }))
	if task.Controller() != a {
		t.Fatal("NewTask did not register with the main controller")
	}
	if err := task.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.Remove(task) {
		t.Fatal("task still registered after Close")
	}
}

// The process-wide barrier cannot be reset, so the before-setup paths run in
// a fresh copy of the test binary.
const barrierChildEnv = "TINYSCHED_BARRIER_CHILD"

func TestProcessBarrierRejectsEarlyUse(t *testing.T) {
	for _, entry := range []string{"newtask", "maincontroller", "initmain"} {
		entry := entry
		t.Run(entry, func(t *testing.T) {
			t.Parallel()
			cmd := exec.Command(os.Args[0], "-test.run=^TestProcessBarrierChild$", "-test.v")
			cmd.Env = append(os.Environ(), barrierChildEnv+"="+entry)
			out, err := cmd.CombinedOutput()
			if err != nil {
				t.Fatalf("child failed: %v\n%s", err, out)
			}
			if !strings.Contains(string(out), "rejected: ") {
				t.Fatalf("child did not report a rejection:\n%s", out)
			}
		})
	}
}

func TestProcessBarrierChild(t *testing.T) {
	entry := os.Getenv(barrierChildEnv)
	if entry == "" {
		t.Skip("only runs as a child of TestProcessBarrierRejectsEarlyUse")
	}
	if HasBeenSetup() {
		t.Fatal("fresh process reports setup done")
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrNotSetup) {
			t.Fatalf("%s: panic = %v, want ErrNotSetup", entry, r)
		}
		if mainCtl != nil {
			t.Fatalf("%s: main controller created before setup", entry)
		}
		fmt.Println("rejected:", err)
	}()

	body := RunnerFunc(func(*Task) time.Duration { return RunSame })
	switch entry {
	case "newtask":
		NewTask("early", time.Second, body)
	case "maincontroller":
		MainController()
	case "initmain":
		InitMainController(Config{MaxTasks: 4})
	default:
		t.Fatalf("unknown entry %q", entry)
	}
}
