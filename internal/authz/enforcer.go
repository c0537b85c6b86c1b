// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package authz decides which authenticated callers may use which management
// endpoints. Policy is RBAC over (role, object, action) evaluated by Casbin.
// The built-in model and policy are embedded; deployments may replace either
// with files named in the security configuration.
package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/warden/internal/config"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Objects and actions named by the API routes.
const (
	ObjectAssessments = "assessments"
	ObjectAppeals     = "appeals"
	ObjectStanding    = "users/standing"
	ObjectBans        = "users/bans"

	ActionRead   = "read"
	ActionReview = "review"
	ActionSubmit = "submit"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// EnforcerConfig selects the model and policy sources.
type EnforcerConfig struct {
	ModelPath  string
	PolicyPath string

	// ReloadInterval re-reads PolicyPath periodically. Zero disables it.
	ReloadInterval time.Duration
}

// ConfigFrom derives an EnforcerConfig from the security settings.
func ConfigFrom(sec config.SecurityConfig) EnforcerConfig {
	cfg := EnforcerConfig{
		ModelPath:  sec.CasbinModelPath,
		PolicyPath: sec.CasbinPolicyPath,
	}
	if cfg.PolicyPath != "" {
		cfg.ReloadInterval = 30 * time.Second
	}
	return cfg
}

// Enforcer wraps a synchronized Casbin enforcer.
type Enforcer struct {
	cfg      EnforcerConfig
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads the model and policy. Missing files fall back to the
// embedded defaults only when no path was configured.
func NewEnforcer(cfg EnforcerConfig) (*Enforcer, error) {
	var m model.Model
	var err error
	if cfg.ModelPath != "" {
		if _, statErr := os.Stat(cfg.ModelPath); statErr != nil {
			return nil, fmt.Errorf("casbin model: %w", statErr)
		}
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" {
		if _, statErr := os.Stat(cfg.PolicyPath); statErr != nil {
			return nil, fmt.Errorf("casbin policy: %w", statErr)
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if cfg.ReloadInterval > 0 && cfg.PolicyPath != "" {
		enforcer.StartAutoLoadPolicy(cfg.ReloadInterval)
	}
	return &Enforcer{cfg: cfg, enforcer: enforcer}, nil
}

// loadPolicy adds the p and g lines of a policy CSV.
func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		var err error
		switch {
		case parts[0] == "p" && len(parts) == 4:
			_, err = enforcer.AddPolicy(parts[1], parts[2], parts[3])
		case parts[0] == "g" && len(parts) == 3:
			_, err = enforcer.AddGroupingPolicy(parts[1], parts[2])
		default:
			err = errors.New("malformed policy line")
		}
		if err != nil {
			return fmt.Errorf("policy line %q: %w", line, err)
		}
	}
	return nil
}

// Enforce reports whether subject may perform action on object.
func (e *Enforcer) Enforce(subject, object, action string) (bool, error) {
	allowed, err := e.enforcer.Enforce(subject, object, action)
	if err != nil {
		return false, fmt.Errorf("enforce: %w", err)
	}
	return allowed, nil
}

// EnforceWithRoles checks subject and then each of the token's roles.
func (e *Enforcer) EnforceWithRoles(subject string, roles []string, object, action string) (bool, error) {
	if allowed, err := e.Enforce(subject, object, action); err != nil || allowed {
		return allowed, err
	}
	for _, role := range roles {
		if allowed, err := e.Enforce(role, object, action); err != nil || allowed {
			return allowed, err
		}
	}
	return false, nil
}

// Close stops policy reloading.
func (e *Enforcer) Close() {
	e.enforcer.StopAutoLoadPolicy()
}
