/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"io"
	"log"
	"os"
)

type Logger interface {
	Printf(format string, v ...interface{})
}

var _ Logger = &log.Logger{}

// DefaultLogger returns a `Logger` writing to stdout.
func DefaultLogger() *log.Logger {
	return log.New(os.Stdout, "", log.LstdFlags)
}

// DiscardLogger returns a `Logger` that drops every line.
func DiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func NewLogger(custom Logger) Logger {
	if custom != nil {
		return custom
	}
	return DefaultLogger()
}

// Printf logs through the config logger if one is set.
func (c Config) Printf(format string, v ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, v...)
	}
}
