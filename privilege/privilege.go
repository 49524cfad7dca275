// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

// Package privilege implements process lifecycle concerns explicitly out
// of scope for the core runtime but still part of the CLI surface
// (spec.md §1, §6): daemonization, a PID file, and dropping to an
// unprivileged user/group once the local interface and socket are open.
// Grounded on original_source/src/main.rs's daemonize::Daemonize and
// privdrop::PrivDrop calls; no equivalent library exists anywhere in the
// retrieved corpus, so this is implemented directly against
// syscall.Setuid/Setgid and os.StartProcess, the stdlib primitives those
// crates themselves wrap.
package privilege

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// WritePIDFile writes the current process id to path.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// RemovePIDFile removes a previously written PID file, ignoring a
// missing file.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Daemonize re-execs the current process detached from the controlling
// terminal, with stdio redirected to /dev/null, and exits the parent.
// Call before opening the local interface/socket so fds aren't
// inherited twice.
func Daemonize() error {
	if os.Getenv("_VPNCLOUD_DAEMONIZED") == "1" {
		return nil
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	env := append(os.Environ(), "_VPNCLOUD_DAEMONIZED=1")
	proc, err := os.StartProcess(exe, os.Args, &os.ProcAttr{
		Env:   env,
		Files: []*os.File{devnull, devnull, devnull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		return err
	}
	_ = proc.Release()
	os.Exit(0)
	return nil
}

// Drop drops the process's privileges to the named group and user, group
// first so the process still has permission to change its own group.
// Either name may be empty to skip that half.
func Drop(user, group string) error {
	if group != "" {
		gid, err := lookupGID(group)
		if err != nil {
			return fmt.Errorf("privilege: %w", err)
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("privilege: setgid(%d) failed: %w", gid, err)
		}
	}
	if user != "" {
		uid, err := lookupUID(user)
		if err != nil {
			return fmt.Errorf("privilege: %w", err)
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("privilege: setuid(%d) failed: %w", uid, err)
		}
	}
	return nil
}

func lookupUID(name string) (int, error) {
	out, err := exec.Command("id", "-u", name).Output()
	if err != nil {
		return 0, fmt.Errorf("unknown user %q: %w", name, err)
	}
	return parseID(out)
}

func lookupGID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("unknown group %q: %w", name, err)
	}
	return strconv.Atoi(g.Gid)
}

func parseID(out []byte) (int, error) {
	s := string(out)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return strconv.Atoi(s)
}

// RunScript executes an ifup/ifdown script (or beacon command) with
// IFNAME set in its environment, blocking the caller for its duration
// (spec.md §4.8, §5: "script execution ... is synchronous by design and
// does block the loop — this is a documented limitation").
func RunScript(script, ifname string) error {
	if script == "" {
		return nil
	}
	cmd := exec.Command("sh", "-c", script)
	cmd.Env = append(os.Environ(), "IFNAME="+ifname)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
