// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"os"
	"sync"
)

var (
	sinksMu sync.Mutex
	sinks   []*os.File
)

// RegisterSink adds a file whose buffers the flush_log_buffer healing action
// should sync to disk.
func RegisterSink(file *os.File) {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	sinks = append(sinks, file)
}

// UnregisterSink removes a previously registered file.
func UnregisterSink(file *os.File) {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	for i, s := range sinks {
		if s == file {
			sinks = append(sinks[:i], sinks[i+1:]...)
			return
		}
	}
}

// Flusher syncs every registered sink. It satisfies the self-healer's
// LogFlusher collaborator.
type Flusher struct{}

func (Flusher) Flush() error {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	var firstErr error
	for _, s := range sinks {
		if err := s.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
