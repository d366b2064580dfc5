// Package plan loads the task list produced by the decomposition step.
//
// A plan file is YAML:
//
//	audit_context: |
//	  Go service, chi router, postgres via pgx.
//	tasks:
//	  - id: schema
//	    title: Add users table
//	    gates: [build, test]
//	  - id: api
//	    title: Expose /users
//	    depends_on: [schema]
//	    acceptance_criteria:
//	      - GET /users returns 200
package plan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// Plan is the decoded plan file.
type Plan struct {
	AuditContext string     `yaml:"audit_context"`
	Tasks        []TaskSpec `yaml:"tasks"`
}

// TaskSpec is one task as written in a plan file.
type TaskSpec struct {
	ID                 string   `yaml:"id"`
	Title              string   `yaml:"title"`
	Description        string   `yaml:"description"`
	DependsOn          []string `yaml:"depends_on"`
	Gates              []string `yaml:"gates"`
	Status             string   `yaml:"status"`
	DeferTrigger       string   `yaml:"defer_trigger"`
	RiskLevel          string   `yaml:"risk_level"`
	EstimatedScope     string   `yaml:"estimated_scope"`
	Layer              string   `yaml:"layer"`
	Type               string   `yaml:"type"`
	Specialist         string   `yaml:"specialist"`
	FilesToTouch       []string `yaml:"files_to_touch"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
}

// Parse decodes a plan from YAML bytes.
func Parse(data []byte) (*Plan, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plan: payload is empty")
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("plan: decode: %w", err)
	}
	if len(p.Tasks) == 0 {
		return nil, fmt.Errorf("plan: no tasks defined")
	}
	return &p, nil
}

// Read reads a plan from r.
func Read(r io.Reader) (*Plan, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("plan: read: %w", err)
	}
	return Parse(content)
}

// LoadFile loads a plan from path.
func LoadFile(path string) (*Plan, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: read %s: %w", path, err)
	}
	p, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// BuildTasks converts the plan into tasks stamped with now.
// Structural checks (dangling references, cycles) are left to graph.Validate;
// this only rejects entries that cannot be represented at all.
func (p *Plan) BuildTasks(now time.Time) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0, len(p.Tasks))
	for i, spec := range p.Tasks {
		t, err := spec.task(now)
		if err != nil {
			return nil, fmt.Errorf("plan: task %d: %w", i+1, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Project builds a fresh project from the plan.
func (p *Plan) Project(now time.Time) (*project.Project, error) {
	tasks, err := p.BuildTasks(now)
	if err != nil {
		return nil, err
	}
	proj := project.New(tasks)
	proj.Update(func(s *project.State) {
		s.SetAuditContext(strings.TrimSpace(p.AuditContext))
	})
	return proj, nil
}

func (s TaskSpec) task(now time.Time) (*models.Task, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(s.Title) == "" {
		return nil, fmt.Errorf("%s: title is required", id)
	}

	status := models.TaskStatusPending
	if s.Status != "" {
		status = models.TaskStatus(strings.ToLower(s.Status))
		if !status.Valid() {
			return nil, fmt.Errorf("%s: unknown status %q", id, s.Status)
		}
	}

	trigger, err := models.NewTrigger(s.DeferTrigger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	if trigger != nil && status != models.TaskStatusDeferred {
		return nil, fmt.Errorf("%s: defer_trigger set on a %s task", id, status)
	}

	gates, err := ParseGates(s.Gates)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	return &models.Task{
		ID:                 id,
		Title:              s.Title,
		Description:        s.Description,
		Dependencies:       dedupe(s.DependsOn),
		Status:             status,
		DeferTrigger:       trigger,
		Gates:              gates,
		RiskLevel:          s.RiskLevel,
		EstimatedScope:     s.EstimatedScope,
		Layer:              s.Layer,
		Type:               s.Type,
		Specialist:         s.Specialist,
		FilesToTouch:       s.FilesToTouch,
		AcceptanceCriteria: s.AcceptanceCriteria,
		CreatedAt:          now,
	}, nil
}

// ParseGates converts gate names to kinds, rejecting unknown names.
func ParseGates(names []string) ([]models.GateKind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]models.GateKind, 0, len(names))
	for _, n := range names {
		kind := models.GateKind(strings.ToLower(strings.TrimSpace(n)))
		switch kind {
		case models.GateBuild, models.GateTest, models.GateLint, models.GateTypecheck:
			out = append(out, kind)
		default:
			return nil, fmt.Errorf("unknown gate %q", n)
		}
	}
	return out, nil
}

// dedupe trims ids and drops empties and repeats, keeping first occurrence.
func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
