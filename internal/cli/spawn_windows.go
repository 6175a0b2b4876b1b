/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build windows

package cli

import "os/exec"

// spawnDetached starts bin and returns its PID without waiting for it to
// exit. pkg/supervisor.ProcessGroupKiller is unix-only (no process-group
// equivalent wired for Windows, per DESIGN.md), so the process-group
// semantics pkg/supervisor.ProcessGroupKiller relies on don't apply here —
// this build only supports the watchdog's classification/notification
// side, not its kill side, on Windows.
func spawnDetached(bin string, args ...string) (int, error) {
	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}
