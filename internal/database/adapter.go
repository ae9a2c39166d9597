// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package database

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"

	"github.com/opsmesh/cmdbd/internal/models"
)

// PolicyAdapter implements casbin's persist.Adapter over the
// casbin_rule table. With auto-save enabled on the enforcer every
// policy mutation is written through here before the in-memory model
// changes, so a storage failure leaves the model untouched.
type PolicyAdapter struct {
	db *DB
}

var _ persist.Adapter = (*PolicyAdapter)(nil)

// NewPolicyAdapter returns an adapter backed by the given database.
func NewPolicyAdapter(db *DB) *PolicyAdapter {
	return &PolicyAdapter{db: db}
}

// LoadPolicy loads all rules from storage into the model.
func (a *PolicyAdapter) LoadPolicy(m model.Model) error {
	rules, err := a.db.LoadAllRules(context.Background())
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := persist.LoadPolicyArray(append([]string{r.Ptype}, r.Values()...), m); err != nil {
			return fmt.Errorf("failed to load policy rule: %w", err)
		}
	}
	return nil
}

// SavePolicy writes the full in-memory model back to storage.
func (a *PolicyAdapter) SavePolicy(m model.Model) error {
	var rules []*models.PolicyRule
	for _, section := range []string{"p", "g"} {
		for ptype, ast := range m[section] {
			for _, rule := range ast.Policy {
				rules = append(rules, toPolicyRule(ptype, rule))
			}
		}
	}
	return a.db.ReplaceAllRules(context.Background(), rules)
}

// AddPolicy persists one new rule.
func (a *PolicyAdapter) AddPolicy(sec, ptype string, rule []string) error {
	return a.db.InsertRule(context.Background(), toPolicyRule(ptype, rule))
}

// RemovePolicy deletes one rule.
func (a *PolicyAdapter) RemovePolicy(sec, ptype string, rule []string) error {
	return a.db.DeleteRule(context.Background(), toPolicyRule(ptype, rule))
}

// RemoveFilteredPolicy deletes rules matching a partial filter.
func (a *PolicyAdapter) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) error {
	return a.db.DeleteFilteredRules(context.Background(), ptype, fieldIndex, fieldValues...)
}

func toPolicyRule(ptype string, rule []string) *models.PolicyRule {
	r := &models.PolicyRule{Ptype: ptype}
	fields := []*string{&r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5}
	for i, v := range rule {
		if i >= len(fields) {
			break
		}
		*fields[i] = v
	}
	return r
}
