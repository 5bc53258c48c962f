// Copyright 2019 Intel Corporation. All Rights Reserved.
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

// Package config loads and distributes static configuration for the
// scheduler core's collaborators (logging, the scheduling driver, the
// demo CLI). Modules register themselves with a default value and an
// optional notification callback; Load parses a single YAML document
// keyed by module name and dispatches the matching section to each
// registered module.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Event describes why a module's configuration notification fired.
type Event string

const (
	// EventUpdate is sent when a module's section changed value.
	EventUpdate Event = "update"
	// EventReset is sent when a module is reset to its defaults.
	EventReset Event = "reset"
)

// Source identifies where a configuration update came from.
type Source string

const (
	// SourceFile marks an update loaded from a YAML file.
	SourceFile Source = "file"
	// SourceDefault marks the initial, built-in default value.
	SourceDefault Source = "default"
)

// NotifyFn is called whenever a module's configuration is (re)applied.
type NotifyFn func(Event, Source) error

// Logger is the minimal logging surface config needs; it is supplied by
// pkg/log so this package does not need to import it back.
type Logger struct {
	DebugEnabled func() bool
	Debug        func(format string, args ...interface{})
	Info         func(format string, args ...interface{})
	Warning      func(format string, args ...interface{})
	Error        func(format string, args ...interface{})
	Fatal        func(format string, args ...interface{})
}

var log = Logger{
	DebugEnabled: func() bool { return false },
	Debug:        func(string, ...interface{}) {},
	Info:         func(string, ...interface{}) {},
	Warning:      func(string, ...interface{}) {},
	Error:        func(string, ...interface{}) {},
	Fatal:        func(format string, args ...interface{}) { panic(fmt.Sprintf(format, args...)) },
}

// SetLogger installs the logger config uses for its own diagnostics.
func SetLogger(l Logger) {
	log = l
}

// Module is a named, independently configurable section of the YAML
// configuration document.
type Module struct {
	name    string
	help    string
	target  interface{}
	notify  []NotifyFn
	applied bool
}

// Option configures a Module at registration time.
type Option interface {
	apply(*Module)
}

type notifyOption struct{ fn NotifyFn }

func (o notifyOption) apply(m *Module) { m.notify = append(m.notify, o.fn) }

// WithNotify registers fn to be called every time the module's section
// is (re)loaded, including once immediately with (EventUpdate, SourceDefault).
func WithNotify(fn NotifyFn) Option {
	return notifyOption{fn: fn}
}

var modules = map[string]*Module{}

// Register declares a configuration module. target must be a pointer to
// the struct the module's YAML section unmarshals into; it should
// already hold the module's default values.
func Register(name, help string, target interface{}, opts ...Option) *Module {
	if _, exists := modules[name]; exists {
		log.Fatal("config: module %q already registered", name)
	}

	m := &Module{name: name, help: help, target: target}
	for _, opt := range opts {
		opt.apply(m)
	}
	modules[name] = m

	if err := m.Notify(EventUpdate, SourceDefault); err != nil {
		log.Error("config: module %q rejected its own defaults: %v", name, err)
	}

	return m
}

// AddNotify adds an additional notification callback to an already
// registered module, invoking it once with the module's current value.
func (m *Module) AddNotify(fn NotifyFn) {
	m.notify = append(m.notify, fn)
	if m.applied {
		if err := fn(EventUpdate, SourceFile); err != nil {
			log.Error("config: module %q notify callback failed: %v", m.name, err)
		}
	}
}

// Notify runs every registered callback for this module.
func (m *Module) Notify(event Event, source Source) error {
	m.applied = true
	for _, fn := range m.notify {
		if err := fn(event, source); err != nil {
			return err
		}
	}
	return nil
}

// GetModule returns a previously registered module, or nil.
func GetModule(name string) *Module {
	return modules[name]
}

// Load reads a YAML document from path, unmarshals each top-level key
// into the matching registered module's target, and fires its
// notification callbacks. Keys with no registered module are ignored;
// registered modules absent from the document keep their defaults.
func Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	for name, node := range doc {
		m, ok := modules[name]
		if !ok {
			log.Warning("config: ignoring unknown section %q in %s", name, path)
			continue
		}

		n := node
		if err := n.Decode(m.target); err != nil {
			return fmt.Errorf("config: section %q: %w", name, err)
		}

		if err := m.Notify(EventUpdate, SourceFile); err != nil {
			return fmt.Errorf("config: section %q rejected: %w", name, err)
		}
	}

	return nil
}
