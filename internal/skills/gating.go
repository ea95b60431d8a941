package skills

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"slices"
)

// GatingContext caches environment probes used for skill eligibility.
type GatingContext struct {
	OS       string
	PathBins map[string]bool
	EnvVars  map[string]bool

	lookPath func(string) (string, error)
}

// NewGatingContext probes the current process environment.
func NewGatingContext() *GatingContext {
	return &GatingContext{
		OS:       runtime.GOOS,
		PathBins: make(map[string]bool),
		EnvVars:  make(map[string]bool),
		lookPath: exec.LookPath,
	}
}

// CheckBinary reports whether a binary is on PATH, caching the result.
func (c *GatingContext) CheckBinary(name string) bool {
	if result, ok := c.PathBins[name]; ok {
		return result
	}
	lookPath := c.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath(name)
	c.PathBins[name] = err == nil
	return err == nil
}

// CheckEnv reports whether an environment variable is set.
func (c *GatingContext) CheckEnv(name string) bool {
	if result, ok := c.EnvVars[name]; ok {
		return result
	}
	_, exists := os.LookupEnv(name)
	c.EnvVars[name] = exists
	return exists
}

// EligibilityResult contains the result of an eligibility check.
type EligibilityResult struct {
	Eligible bool
	Reason   string
}

// CheckEligibility decides whether a SKILL.md may be registered here.
func (s *SkillEntry) CheckEligibility(ctx *GatingContext) EligibilityResult {
	meta := s.Metadata
	if meta == nil || meta.Always {
		return EligibilityResult{Eligible: true}
	}

	if len(meta.OS) > 0 && !slices.Contains(meta.OS, ctx.OS) {
		return EligibilityResult{Reason: fmt.Sprintf("requires OS %v, have %s", meta.OS, ctx.OS)}
	}

	req := meta.Requires
	if req == nil {
		return EligibilityResult{Eligible: true}
	}
	for _, bin := range req.Bins {
		if !ctx.CheckBinary(bin) {
			return EligibilityResult{Reason: "missing required binary: " + bin}
		}
	}
	if len(req.AnyBins) > 0 && !slices.ContainsFunc(req.AnyBins, ctx.CheckBinary) {
		return EligibilityResult{Reason: fmt.Sprintf("requires one of: %v", req.AnyBins)}
	}
	for _, env := range req.Env {
		if !ctx.CheckEnv(env) {
			return EligibilityResult{Reason: "missing environment variable: " + env}
		}
	}
	return EligibilityResult{Eligible: true}
}
