// Copyright 2026 The Iris Authors.
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

// Package config provides basic infrastructure to set configuration settings
// for isim. Each setting is registered as a flag on a flag.FlagSet and read
// back into a Config by NewFromFlags.
package config

import (
	"fmt"
	"math"
	"time"

	"iris.dev/iris/pkg/log"
	"iris.dev/iris/pkg/sentry/kernel"
)

// Config holds configuration that is not part of a scenario file.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register the flag in RegisterFlags.
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format. Valid values are "text" and "json".
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// CPUs is the number of simulated CPUs stepped in each round.
	CPUs int `flag:"cpus"`

	// QuantumSteps is the number of steps a task runs before preemption.
	QuantumSteps int `flag:"quantum-steps"`

	// MaxProcesses bounds the pid space.
	MaxProcesses int `flag:"max-processes"`

	// PhysicalFrames is the number of simulated page frames.
	PhysicalFrames uint `flag:"physical-frames"`

	// Tick is how far the simulated clock advances in each round.
	Tick time.Duration `flag:"tick"`

	// MaxRounds bounds a run. A scenario whose processes have not all
	// exited after MaxRounds rounds is reported as stuck.
	MaxRounds int `flag:"max-rounds"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	switch {
	case c.CPUs <= 0:
		return fmt.Errorf("--cpus must be positive, got %d", c.CPUs)
	case c.QuantumSteps <= 0:
		return fmt.Errorf("--quantum-steps must be positive, got %d", c.QuantumSteps)
	case c.MaxProcesses <= 1:
		return fmt.Errorf("--max-processes must be at least 2, got %d", c.MaxProcesses)
	case c.PhysicalFrames == 0 || uint64(c.PhysicalFrames) > math.MaxUint32:
		return fmt.Errorf("--physical-frames out of range: %d", c.PhysicalFrames)
	case c.Tick <= 0:
		return fmt.Errorf("--tick must be positive, got %v", c.Tick)
	case c.MaxRounds <= 0:
		return fmt.Errorf("--max-rounds must be positive, got %d", c.MaxRounds)
	}
	return nil
}

// KernelConfig returns the kernel configuration the flags describe. The
// clock is left for the caller to set.
func (c *Config) KernelConfig() kernel.Config {
	return kernel.Config{
		CPUs:           c.CPUs,
		QuantumSteps:   c.QuantumSteps,
		MaxProcesses:   c.MaxProcesses,
		PhysicalFrames: uint32(c.PhysicalFrames),
	}
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", f)
	}
	log.Infof("\tCPUs: %d, quantum: %d steps, tick: %v", c.CPUs, c.QuantumSteps, c.Tick)
}
