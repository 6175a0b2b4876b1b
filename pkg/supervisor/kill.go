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

package supervisor

import "time"

// ProcessKiller terminates an orchestrator process tree. Abstracted behind
// an interface (rather than calling syscall directly from Watchdog) so the
// stall-handling state machine can be exercised with a fake in tests.
type ProcessKiller interface {
	// Kill terminates pid and its process group: SIGTERM first, then SIGKILL
	// after grace if the group hasn't exited.
	Kill(pid int, grace time.Duration) error
}
