/*
Copyright 2024 The tinykernel Authors.

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

// Package kconfig loads the small boot-time configuration document
// read from /boot/tinykernel.json on-device (or passed via -config to
// host tools), in the same typed-getter-over-a-map style as the
// teacher's own JSON config layer.
package kconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the boot-time configuration. Use Default (or Load) to get
// one: the zero value has nil key-tracking maps and PSRAM detection
// off, unlike the default configuration.
type Config struct {
	raw    map[string]interface{}
	touched map[string]bool
	errs   []error

	FlashPlacement bool
	DebugBridge    string // listen address, empty disables the bridge
	PSRAMDetect    bool
	RootPath       string
	PathDirs       []string
}

// Default returns the configuration used when no config file exists,
// matching hardware variants where flash placement is permanently
// disabled and there is no debug bridge wired up.
func Default() *Config {
	return &Config{
		raw:      map[string]interface{}{},
		touched:  map[string]bool{},
		FlashPlacement: false,
		PSRAMDetect:    true,
		RootPath:       "/",
		PathDirs:       []string{"/bin"},
	}
}

// Load reads and parses the JSON document at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("kconfig: parsing %s: %v", path, err)
	}
	c := Default()
	c.raw = raw
	c.FlashPlacement = c.optBool("flashPlacement", c.FlashPlacement)
	c.DebugBridge = c.optString("debugBridge", c.DebugBridge)
	c.PSRAMDetect = c.optBool("psramDetect", c.PSRAMDetect)
	c.RootPath = c.optString("root", c.RootPath)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) optBool(key string, def bool) bool {
	c.touched[key] = true
	v, ok := c.raw[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		c.errs = append(c.errs, fmt.Errorf("kconfig: key %q must be a bool", key))
		return def
	}
	return b
}

func (c *Config) optString(key, def string) string {
	c.touched[key] = true
	v, ok := c.raw[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		c.errs = append(c.errs, fmt.Errorf("kconfig: key %q must be a string", key))
		return def
	}
	return s
}

// Validate reports malformed values collected during Load and any
// config key present in the document but never consulted by a typed
// getter above — a leftover or misspelled key is a configuration bug,
// not something to silently ignore.
func (c *Config) Validate() error {
	if len(c.errs) > 0 {
		return c.errs[0]
	}
	for key := range c.raw {
		if !c.touched[key] {
			return fmt.Errorf("kconfig: unknown config key %q", key)
		}
	}
	return nil
}
