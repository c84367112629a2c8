//go:build windows

package sandbox

import "os"

func termGroup(p *os.Process) { _ = p.Kill() }

func killGroup(p *os.Process) { _ = p.Kill() }

func signaled(*os.ProcessState) (int, bool) { return 0, false }
